package sms

import (
	"strings"
	"testing"
)

// 经典的 GSM7 SMS-DELIVER 样例:来自 +31641600986 的 "How are you?"
const deliverPDU = "07911326040000F0040B911346610089F60000208062917314080CC8F71D14969741F977FD07"

func TestDecodePDUSinglePart(t *testing.T) {
	fragment, err := DecodePDU(deliverPDU)
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}

	if fragment.Sender != "+31641600986" {
		t.Errorf("Sender = %q, want +31641600986", fragment.Sender)
	}
	if fragment.Text != "How are you?" {
		t.Errorf("Text = %q, want \"How are you?\"", fragment.Text)
	}
	if fragment.Timestamp != "020826193741" {
		t.Errorf("Timestamp = %q, want 020826193741", fragment.Timestamp)
	}
	if fragment.Concat {
		t.Error("单条短信不应标记为长短信")
	}
	if fragment.Part != 1 || fragment.Total != 1 {
		t.Errorf("单条短信分片序号应为 1/1, got %d/%d", fragment.Part, fragment.Total)
	}
	if fragment.RawPDU != deliverPDU {
		t.Error("RawPDU 应保留原始输入")
	}
}

// UCS2 长短信分片(ref=42, part 2/2),用户数据为奇数字节,正文无法解码
const concatGapPDU = "00440B911346610089F6000820806291731408090500032A02024F6059"

func TestDecodePDUConcatGapFragment(t *testing.T) {
	fragment, err := DecodePDU(concatGapPDU)
	if err != nil {
		t.Fatalf("分段头可用时不应整体报错: %v", err)
	}

	if !fragment.TextMissing {
		t.Error("正文解码失败的分片应标记 TextMissing")
	}
	if fragment.Text != "" {
		t.Errorf("缺口分片文本应为空: %q", fragment.Text)
	}
	if !fragment.Concat || fragment.Ref != 42 || fragment.Part != 2 || fragment.Total != 2 {
		t.Errorf("分段头不符: concat=%v ref=%d part=%d/%d",
			fragment.Concat, fragment.Ref, fragment.Part, fragment.Total)
	}
	if fragment.Sender != "+31641600986" {
		t.Errorf("Sender = %q", fragment.Sender)
	}
	if fragment.Timestamp != "020826193741" {
		t.Errorf("Timestamp = %q", fragment.Timestamp)
	}
}

func TestDecodePDUInvalidInput(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"非 HEX 输入", "ZZZZ"},
		{"空输入", ""},
		{"短信中心字段越界", "FF"},
		{"截断的 TPDU", "0791132604"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := DecodePDU(c.input); err == nil {
				t.Errorf("DecodePDU(%q) 应返回错误", c.input)
			}
		})
	}
}

func TestStripSMSC(t *testing.T) {
	// 07 + 7 字节短信中心地址,其后才是 TPDU 本体
	stripped, err := stripSMSC([]byte{0x07, 1, 2, 3, 4, 5, 6, 7, 0xAA, 0xBB})
	if err != nil {
		t.Fatalf("剥离失败: %v", err)
	}
	if len(stripped) != 2 || stripped[0] != 0xAA {
		t.Errorf("剥离结果不符: %x", stripped)
	}

	// 无短信中心字段(长度 0)
	stripped, err = stripSMSC([]byte{0x00, 0xAA})
	if err != nil || len(stripped) != 1 {
		t.Errorf("零长字段应只吃掉长度字节: %x err=%v", stripped, err)
	}
}

func TestDecodePDUErrorMentionsStage(t *testing.T) {
	_, err := DecodePDU("ZZZZ")
	if err == nil || !strings.Contains(err.Error(), "十六进制") {
		t.Errorf("错误信息应指明失败阶段: %v", err)
	}
}
