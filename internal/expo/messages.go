package expo

// MaxBatchSize is the largest number of messages or ticket ids the gateway
// accepts in a single call.
const MaxBatchSize = 100

// ErrorDeviceNotRegistered is the gateway error code meaning the destination
// token will never accept deliveries again.
const ErrorDeviceNotRegistered = "DeviceNotRegistered"

const (
	statusOK    = "ok"
	statusError = "error"
)

// PushMessage is one send request entry for a single destination token.
type PushMessage struct {
	To    string         `json:"to"`
	Title string         `json:"title,omitempty"`
	Body  string         `json:"body,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
	Sound string         `json:"sound,omitempty"`
}

// PushTicket is the gateway's immediate per-message acknowledgement,
// order-correlated with the submitted batch.
type PushTicket struct {
	Status  string         `json:"status"`
	ID      string         `json:"id,omitempty"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func (t PushTicket) OK() bool {
	return t.Status == statusOK
}

// ErrorCode extracts the gateway error code from the ticket details.
func (t PushTicket) ErrorCode() string {
	return errorCode(t.Details)
}

func (t PushTicket) IsDeviceNotRegistered() bool {
	return t.ErrorCode() == ErrorDeviceNotRegistered
}

// PushReceipt is the gateway's final delivery outcome for a ticket, fetched
// asynchronously after the send.
type PushReceipt struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func (r PushReceipt) OK() bool {
	return r.Status == statusOK
}

func (r PushReceipt) ErrorCode() string {
	return errorCode(r.Details)
}

func (r PushReceipt) IsDeviceNotRegistered() bool {
	return r.ErrorCode() == ErrorDeviceNotRegistered
}

func errorCode(details map[string]any) string {
	if details == nil {
		return ""
	}
	code, _ := details["error"].(string)
	return code
}
