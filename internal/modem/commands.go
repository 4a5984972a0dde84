package modem

import "fmt"

const (
	CMD_ECHO_OFF          = "ATE0\r"
	CMD_SMS_PDU_MODE      = "AT+CMGF=0\r"
	CMD_SET_SMS_STORAGE   = "AT+CPMS=\"ME\",\"ME\",\"ME\"\r"
	CMD_ENABLE_SMS_NOTIFY = "AT+CNMI=2,1\r"
	CMD_PROBE             = "AT\r"
	CMD_SIGNAL_QUALITY    = "AT+CSQ\r"
	CMD_NETWORK_REG       = "AT+CREG?\r"
	CMD_SIM_STATE         = "AT+CPIN?\r"
)

// CmdReadSMS 按存储索引读取一条短信
func CmdReadSMS(index int) string {
	return fmt.Sprintf("AT+CMGR=%d\r", index)
}

// CmdDeleteSMS 按存储索引删除一条短信(处理完成后的确认动作)
func CmdDeleteSMS(index int) string {
	return fmt.Sprintf("AT+CMGD=%d\r", index)
}
