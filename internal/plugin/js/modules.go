package js

import (
	"github.com/dop251/goja"

	"github.com/dshills/plugforge/internal/plugin/modules"
)

// module builds the object for a sanctioned module, or returns nil.
// Go functions returning an error throw in the script.
func (e *environment) module(name string) goja.Value {
	vm := e.vm
	obj := vm.NewObject()
	set := func(k string, v any) {
		_ = obj.Set(k, v)
	}

	switch name {
	case "json":
		set("encode", func(v any) (string, error) {
			return modules.JSONEncode(v)
		})
		set("decode", modules.JSONDecode)
	case "base64":
		set("encode", modules.Base64Encode)
		set("decode", modules.Base64Decode)
	case "hash":
		for _, alg := range modules.HashNames {
			set(alg, func(s string) (string, error) {
				return modules.Hash(alg, s)
			})
		}
		set("hmac_sha256", modules.HMACSHA256)
	case "uuid":
		set("new", modules.NewUUID)
	case "time":
		set("now", modules.Now)
		set("unix", modules.Unix)
		set("format", func(unix float64, layout goja.Value) string {
			return modules.FormatTime(unix, optString(layout))
		})
		set("parse", func(value string, layout goja.Value) (float64, error) {
			return modules.ParseTime(value, optString(layout))
		})
		set("sleep", func(ms float64) error {
			return modules.Sleep(e.ctx, ms)
		})
	case "re":
		set("match", modules.Match)
		set("find", func(pattern, s string) (goja.Value, error) {
			m, ok, err := modules.Find(pattern, s)
			if err != nil || !ok {
				return goja.Null(), err
			}
			return vm.ToValue(m), nil
		})
		set("find_all", modules.FindAll)
		set("replace", modules.Replace)
		set("split", modules.Split)
	default:
		return nil
	}
	return obj
}

func optString(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}
