package sms

import (
	"encoding/hex"
	"fmt"

	"github.com/warthog618/sms"
	"github.com/warthog618/sms/encoding/tpdu"
)

// Fragment 一个解码完成的短信分片
// 单条短信也是一个分片(Concat=false, Part=Total=1)
type Fragment struct {
	Sender      string // 发件人号码
	Text        string // 该分片的文本内容
	Timestamp   string // 12 位原始时间戳(yymmddhhmmss)
	Concat      bool   // 是否属于长短信
	Ref         int    // 长短信参考号(Concat 时有效)
	Part        int    // 分片序号,从 1 开始
	Total       int    // 分片总数
	TextMissing bool   // 正文解码失败,该分片以空文本参与重组
	RawPDU      string // 原始 PDU 十六进制串
}

// timestampLayout 服务中心时间戳的 12 位紧凑格式
const timestampLayout = "060102150405"

// DecodePDU 解码一行 PDU 十六进制串为短信分片
// 仅接受 SMS-DELIVER;解码失败时返回错误,调用方负责丢弃与计数
func DecodePDU(raw string) (*Fragment, error) {
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("PDU 十六进制解码失败: %w", err)
	}

	b, err = stripSMSC(b)
	if err != nil {
		return nil, err
	}

	msg, err := sms.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("TPDU 解析失败: %w", err)
	}
	if msg.SmsType() != tpdu.SmsDeliver {
		return nil, fmt.Errorf("非 SMS-DELIVER 类型: %v", msg.SmsType())
	}

	alphabet, err := msg.DCS.Alphabet()
	if err != nil {
		return nil, fmt.Errorf("无法识别的编码方案 DCS=0x%02X: %w", byte(msg.DCS), err)
	}

	text, udErr := tpdu.DecodeUserData(msg.UD, msg.UDH, alphabet)
	if udErr != nil {
		// 分段头可用时以空文本分片参与重组,缺这一段不该废掉整条长短信;
		// 单条短信正文解码失败则无可挽回,按错误返回
		if segments, seqno, mref, ok := msg.ConcatInfo(); ok && segments > 1 {
			return &Fragment{
				Sender:      msg.OA.Number(),
				Timestamp:   msg.SCTS.Time.Format(timestampLayout),
				Concat:      true,
				Ref:         mref,
				Part:        seqno,
				Total:       segments,
				TextMissing: true,
				RawPDU:      raw,
			}, nil
		}
		return nil, fmt.Errorf("用户数据解码失败: %w", udErr)
	}

	fragment := &Fragment{
		Sender:    msg.OA.Number(),
		Text:      string(text),
		Timestamp: msg.SCTS.Time.Format(timestampLayout),
		Part:      1,
		Total:     1,
		RawPDU:    raw,
	}

	if segments, seqno, mref, ok := msg.ConcatInfo(); ok {
		fragment.Concat = true
		fragment.Ref = mref
		fragment.Part = seqno
		fragment.Total = segments
	}

	return fragment, nil
}

// stripSMSC 剥离 PDU 头部的短信中心地址字段
// 首字节是短信中心字段的八位组长度,其后紧跟地址本体
func stripSMSC(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("PDU 为空")
	}
	smscLen := int(b[0])
	if len(b) <= smscLen+1 {
		return nil, fmt.Errorf("PDU 长度不足: 短信中心字段声明 %d 字节", smscLen)
	}
	return b[smscLen+1:], nil
}
