package modem

import "testing"

func TestDecodeModemText(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"普通 ASCII 原样返回", "+CSQ: 20,0", "+CSQ: 20,0"},
		{"UCS2 HEX 解码", "4F60597D", "你好"},
		{"UCS2 HEX 含代理对", "D83DDE00", "😀"},
		{"GBK 回退解码", "\xc4\xe3\xba\xc3", "你好"},
		{"空串", "", ""},
		{"长度非 4 倍数的 HEX 不按 UCS2 处理", "4F605", "4F605"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := DecodeModemText(c.input)
			if got != c.want {
				t.Errorf("DecodeModemText(%q) = %q, want %q", c.input, got, c.want)
			}
		})
	}
}
