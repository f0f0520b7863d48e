// 包 cellset：单元集合规整（排序、去重、压缩），保证写入空间映射前每个来源的集合最小且唯一
package cellset

import (
	"slices"

	"hexmap/internal/cell"
)

// 文档注释：规整原始单元集合
// 背景：原始集合可能包含重复、混合层级以及可合并的完整兄弟组；直接写入会放大树结构且不改变查询结果。
// 步骤：排序去重 → 剔除已被祖先覆盖的单元 → 自最细层级向上，将完整兄弟组（7 个，五边形父单元为 6 个）替换为父单元。
// 返回：有序、无重复、互不包含的最小覆盖集合；输入切片不会被修改。
func Normalize(raw []cell.Cell) ([]cell.Cell, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	set := slices.Clone(raw)
	slices.Sort(set)
	set = slices.Compact(set)

	set, err := dropCovered(set)
	if err != nil {
		return nil, err
	}

	byRes := make(map[int][]cell.Cell)
	maxRes := 0
	for _, c := range set {
		r := c.Resolution()
		byRes[r] = append(byRes[r], c)
		if r > maxRes {
			maxRes = r
		}
	}
	for res := maxRes; res > 0; res-- {
		cur := byRes[res]
		if len(cur) == 0 {
			continue
		}
		groups := make(map[cell.Cell]int, len(cur)/cell.NumDigits+1)
		for _, c := range cur {
			p, err := c.Parent(res - 1)
			if err != nil {
				return nil, err
			}
			groups[p]++
		}
		keep := cur[:0]
		for _, c := range cur {
			p, _ := c.Parent(res - 1)
			if groups[p] == p.ChildCount() {
				continue
			}
			keep = append(keep, c)
		}
		byRes[res] = keep
		for p, n := range groups {
			if n == p.ChildCount() {
				byRes[res-1] = append(byRes[res-1], p)
			}
		}
	}

	out := make([]cell.Cell, 0, len(set))
	for _, cs := range byRes {
		out = append(out, cs...)
	}
	slices.Sort(out)
	return out, nil
}

// 剔除祖先已在集合中的单元；输入须已排序去重
func dropCovered(set []cell.Cell) ([]cell.Cell, error) {
	present := make(map[cell.Cell]struct{}, len(set))
	for _, c := range set {
		present[c] = struct{}{}
	}
	out := set[:0]
	for _, c := range set {
		covered := false
		for r := c.Resolution() - 1; r >= 0; r-- {
			p, err := c.Parent(r)
			if err != nil {
				return nil, err
			}
			if _, ok := present[p]; ok {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, c)
		}
	}
	return out, nil
}

// 文档注释：将集合展开到固定层级
// 背景：用于校验压缩前后覆盖面积一致；比 res 更细的成员视为非法输入。
func Uncompact(set []cell.Cell, res int) ([]cell.Cell, error) {
	var out []cell.Cell
	for _, c := range set {
		kids, err := c.Children(res)
		if err != nil {
			return nil, err
		}
		out = append(out, kids...)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}
