// 包 codec：CBOR 编解码统一入口，产物尾部查找表与其他结构化数据均经此序列化
package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// 文档注释：编码器采用核心确定性编码（RFC 8949 §4.2）
// 背景：同一输入必须产出相同字节，保证重复构建的产物摘要一致；数组与字符串均为定长前缀编码。
var encMode cbor.EncMode

// 解码器：any 目标统一落到 map[string]any，与 encoding/json 习惯一致
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: cbor encoder init: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: cbor decoder init: " + err.Error())
	}
}

func Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

func Unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }

// NewEncoder / NewDecoder：流式读写，用于直接对文件追加或按偏移读取
func NewEncoder(w io.Writer) *cbor.Encoder { return encMode.NewEncoder(w) }

func NewDecoder(r io.Reader) *cbor.Decoder { return decMode.NewDecoder(r) }
