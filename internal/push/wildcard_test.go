package push

import "testing"

func TestWildcardMatch(t *testing.T) {
	cases := []struct {
		name    string
		pattern string
		input   string
		want    bool
	}{
		{"精确匹配命中", "95588", "95588", true},
		{"精确匹配未命中", "95588", "95589", false},
		{"前缀匹配命中", "1380*", "13800001111", true},
		{"前缀匹配未命中", "1380*", "13900000000", false},
		{"后缀匹配命中", "*95588", "+8695588", true},
		{"后缀匹配未命中", "*95588", "95588000", false},
		{"单独星号匹配所有", "*", "anything", true},
		{"空模式匹配所有", "", "13800001111", true},
		{"内嵌通配命中", "95*88", "9512388", true},
		{"内嵌通配未命中", "95*88", "951238", false},
		{"内嵌通配前后缀不得重叠", "95*58", "958", false},
		{"内嵌通配零长中段", "95*88", "9588", true},
		{"多个星号按字面比较", "95*8*8", "95188", false},
		{"多个星号字面相等", "95*8*8", "95*8*8", true},
		{"空输入与非空模式", "95588", "", false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := WildcardMatch(c.pattern, c.input)
			if got != c.want {
				t.Errorf("WildcardMatch(%q, %q) = %v, want %v", c.pattern, c.input, got, c.want)
			}
		})
	}
}

func TestKeywordMatch(t *testing.T) {
	cases := []struct {
		name     string
		keywords string
		content  string
		want     bool
	}{
		{"空列表匹配所有", "", "任意内容", true},
		{"仅含空项的列表匹配所有", " , ,", "任意内容", true},
		{"单关键字命中", "验证码", "您的验证码是 1234", true},
		{"单关键字未命中", "验证码", "您好", false},
		{"多关键字任一命中", "重要,紧急", "这是一条紧急通知", true},
		{"多关键字全部未命中", "重要,紧急", "普通消息", false},
		{"关键字两侧空白被剔除", " 重要 , 紧急 ", "重要事项", true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := KeywordMatch(c.keywords, c.content)
			if got != c.want {
				t.Errorf("KeywordMatch(%q, %q) = %v, want %v", c.keywords, c.content, got, c.want)
			}
		})
	}
}
