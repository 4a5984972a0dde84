package modem

import (
	"encoding/hex"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
)

const ucs2HexCharsPerUnit = 4

// DecodeModemText 尽力把模块返回的文本还原为可读字符串
// 部分模块把运营商名称等字段编码为 UCS2 HEX 或 GBK,解码失败时原样返回
func DecodeModemText(s string) string {
	t := strings.TrimSpace(s)
	if isUCS2Hex(t) {
		if decoded, err := decodeUCS2Hex(t); err == nil {
			return decoded
		}
	}

	if !utf8.ValidString(s) {
		if decoded, err := simplifiedchinese.GBK.NewDecoder().String(s); err == nil {
			return decoded
		}
	}

	return s
}

// isUCS2Hex 判断字符串是否形如 UCS2 HEX(4 个 HEX 字符一个编码单元)
func isUCS2Hex(s string) bool {
	if s == "" || len(s)%ucs2HexCharsPerUnit != 0 {
		return false
	}
	for _, c := range s {
		if !isHexCharacter(c) {
			return false
		}
	}
	return true
}

// isHexCharacter 判断单个字符是否为有效的 HEX 字符
func isHexCharacter(c rune) bool {
	return (c >= '0' && c <= '9') ||
		(c >= 'A' && c <= 'F') ||
		(c >= 'a' && c <= 'f')
}

// decodeUCS2Hex 把 UCS2/UTF-16BE HEX 字符串解码为文本(含代理对)
func decodeUCS2Hex(s string) (string, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return "", err
	}

	units := make([]uint16, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		units = append(units, uint16(raw[i])<<8|uint16(raw[i+1]))
	}

	return string(utf16.Decode(units)), nil
}
