package heartbeatpb

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// RequestMethod is the HTTP method of a RequestCommand
type RequestMethod int32

const (
	RequestMethod_GET  RequestMethod = 0
	RequestMethod_POST RequestMethod = 1
)

// HttpHeader is one header of a RequestCommand
type HttpHeader struct {
	Key   string
	Value string
}

func (m *HttpHeader) appendTo(b []byte) []byte {
	b = appendString(b, 1, m.Key)
	b = appendString(b, 2, m.Value)
	return b
}

func (m *HttpHeader) unmarshal(b []byte) error {
	return unmarshalFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
		switch num {
		case 1:
			m.Key, n, err = consumeString(typ, b)
		case 2:
			m.Value, n, err = consumeString(typ, b)
		}
		return n, err
	})
}

// RequestCommand floods a target with requests
type RequestCommand struct {
	ConcurrentCount uint32
	Url             string
	Time            *uint64 // seconds
	Ip              *string
	Header          []*HttpHeader
	Method          RequestMethod
	Body            *string
	Timeout         *uint64 // seconds
	StartAt         *uint64 // epoch seconds
	AbortIfAfter    *uint64 // epoch seconds
	EnableRandom    bool
	SingleRequest   bool
}

func (m *RequestCommand) appendTo(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.ConcurrentCount))
	b = appendString(b, 2, m.Url)
	if m.Time != nil {
		b = appendOptionalVarint(b, 3, *m.Time)
	}
	if m.Ip != nil {
		b = appendOptionalString(b, 4, *m.Ip)
	}
	for _, h := range m.Header {
		b = appendMessage(b, 5, h)
	}
	b = appendVarint(b, 6, uint64(m.Method))
	if m.Body != nil {
		b = appendOptionalString(b, 7, *m.Body)
	}
	if m.Timeout != nil {
		b = appendOptionalVarint(b, 8, *m.Timeout)
	}
	if m.StartAt != nil {
		b = appendOptionalVarint(b, 9, *m.StartAt)
	}
	if m.AbortIfAfter != nil {
		b = appendOptionalVarint(b, 10, *m.AbortIfAfter)
	}
	b = appendBool(b, 11, m.EnableRandom)
	b = appendBool(b, 12, m.SingleRequest)
	return b
}

func (m *RequestCommand) unmarshal(b []byte) error {
	return unmarshalFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			m.ConcurrentCount = uint32(v)
			return n, err
		case 2:
			v, n, err := consumeString(typ, b)
			m.Url = v
			return n, err
		case 3:
			v, n, err := consumeVarint(typ, b)
			m.Time = &v
			return n, err
		case 4:
			v, n, err := consumeString(typ, b)
			m.Ip = &v
			return n, err
		case 5:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			h := &HttpHeader{}
			if err := h.unmarshal(v); err != nil {
				return 0, err
			}
			m.Header = append(m.Header, h)
			return n, nil
		case 6:
			v, n, err := consumeVarint(typ, b)
			m.Method = RequestMethod(v)
			return n, err
		case 7:
			v, n, err := consumeString(typ, b)
			m.Body = &v
			return n, err
		case 8:
			v, n, err := consumeVarint(typ, b)
			m.Timeout = &v
			return n, err
		case 9:
			v, n, err := consumeVarint(typ, b)
			m.StartAt = &v
			return n, err
		case 10:
			v, n, err := consumeVarint(typ, b)
			m.AbortIfAfter = &v
			return n, err
		case 11:
			v, n, err := consumeVarint(typ, b)
			m.EnableRandom = v != 0
			return n, err
		case 12:
			v, n, err := consumeVarint(typ, b)
			m.SingleRequest = v != 0
			return n, err
		}
		return 0, nil
	})
}

// ShellCommand runs a command on the agent host
type ShellCommand struct {
	Shell        *string
	Command      string
	WorkDir      *string
	Timeout      *uint64
	StartAt      *uint64
	AbortIfAfter *uint64
}

func (m *ShellCommand) appendTo(b []byte) []byte {
	if m.Shell != nil {
		b = appendOptionalString(b, 1, *m.Shell)
	}
	b = appendString(b, 2, m.Command)
	if m.WorkDir != nil {
		b = appendOptionalString(b, 3, *m.WorkDir)
	}
	if m.Timeout != nil {
		b = appendOptionalVarint(b, 4, *m.Timeout)
	}
	if m.StartAt != nil {
		b = appendOptionalVarint(b, 5, *m.StartAt)
	}
	if m.AbortIfAfter != nil {
		b = appendOptionalVarint(b, 6, *m.AbortIfAfter)
	}
	return b
}

func (m *ShellCommand) unmarshal(b []byte) error {
	return unmarshalFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, b)
			m.Shell = &v
			return n, err
		case 2:
			v, n, err := consumeString(typ, b)
			m.Command = v
			return n, err
		case 3:
			v, n, err := consumeString(typ, b)
			m.WorkDir = &v
			return n, err
		case 4, 5, 6:
			v, n, err := consumeVarint(typ, b)
			switch num {
			case 4:
				m.Timeout = &v
			case 5:
				m.StartAt = &v
			default:
				m.AbortIfAfter = &v
			}
			return n, err
		}
		return 0, nil
	})
}

// Command holds exactly one of Request, SingleRequest or Shell
type Command struct {
	Request       *RequestCommand
	SingleRequest *RequestCommand
	Shell         *ShellCommand
}

func (m *Command) appendTo(b []byte) []byte {
	switch {
	case m.Request != nil:
		b = appendMessage(b, 1, m.Request)
	case m.SingleRequest != nil:
		b = appendMessage(b, 2, m.SingleRequest)
	case m.Shell != nil:
		b = appendMessage(b, 3, m.Shell)
	}
	return b
}

func (m *Command) unmarshal(b []byte) error {
	return unmarshalFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num < 1 || num > 3 {
			return 0, nil
		}
		v, n, err := consumeBytes(typ, b)
		if err != nil {
			return 0, err
		}
		// the last member of a oneof wins
		*m = Command{}
		switch num {
		case 1:
			m.Request = &RequestCommand{}
			err = m.Request.unmarshal(v)
		case 2:
			m.SingleRequest = &RequestCommand{}
			err = m.SingleRequest.unmarshal(v)
		case 3:
			m.Shell = &ShellCommand{}
			err = m.Shell.unmarshal(v)
		}
		return n, err
	})
}

// ExecuteGroup is a batch of commands meant to start together
type ExecuteGroup struct {
	Commands []*Command
}

func (m *ExecuteGroup) appendTo(b []byte) []byte {
	for _, c := range m.Commands {
		b = appendMessage(b, 1, c)
	}
	return b
}

func (m *ExecuteGroup) unmarshal(b []byte) error {
	return unmarshalFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, nil
		}
		v, n, err := consumeBytes(typ, b)
		if err != nil {
			return 0, err
		}
		c := &Command{}
		if err := c.unmarshal(v); err != nil {
			return 0, err
		}
		m.Commands = append(m.Commands, c)
		return n, nil
	})
}

// RequestCommandResultItem carries the status counters of the agent
type RequestCommandResultItem struct {
	Code_2    uint64
	Code_3    uint64
	Code_4    uint64
	Code_5    uint64
	Failure   uint64
	Timestamp uint64
}

func (m *RequestCommandResultItem) appendTo(b []byte) []byte {
	b = appendVarint(b, 1, m.Code_2)
	b = appendVarint(b, 2, m.Code_3)
	b = appendVarint(b, 3, m.Code_4)
	b = appendVarint(b, 4, m.Code_5)
	b = appendVarint(b, 5, m.Failure)
	b = appendVarint(b, 6, m.Timestamp)
	return b
}

func (m *RequestCommandResultItem) unmarshal(b []byte) error {
	return unmarshalFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var dst *uint64
		switch num {
		case 1:
			dst = &m.Code_2
		case 2:
			dst = &m.Code_3
		case 3:
			dst = &m.Code_4
		case 4:
			dst = &m.Code_5
		case 5:
			dst = &m.Failure
		case 6:
			dst = &m.Timestamp
		default:
			return 0, nil
		}
		v, n, err := consumeVarint(typ, b)
		*dst = v
		return n, err
	})
}

// SingleRequestResultItem is the outcome of a single diagnostic request
type SingleRequestResultItem struct {
	Code      uint32
	Content   string
	Timestamp uint64
}

func (m *SingleRequestResultItem) appendTo(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.Code))
	b = appendString(b, 2, m.Content)
	b = appendVarint(b, 3, m.Timestamp)
	return b
}

func (m *SingleRequestResultItem) unmarshal(b []byte) error {
	return unmarshalFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			m.Code = uint32(v)
			return n, err
		case 2:
			v, n, err := consumeString(typ, b)
			m.Content = v
			return n, err
		case 3:
			v, n, err := consumeVarint(typ, b)
			m.Timestamp = v
			return n, err
		}
		return 0, nil
	})
}

// CommandResultItem holds exactly one of Request or SingleRequest
type CommandResultItem struct {
	Request       *RequestCommandResultItem
	SingleRequest *SingleRequestResultItem
}

func (m *CommandResultItem) appendTo(b []byte) []byte {
	switch {
	case m.Request != nil:
		b = appendMessage(b, 1, m.Request)
	case m.SingleRequest != nil:
		b = appendMessage(b, 2, m.SingleRequest)
	}
	return b
}

func (m *CommandResultItem) unmarshal(b []byte) error {
	return unmarshalFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 && num != 2 {
			return 0, nil
		}
		v, n, err := consumeBytes(typ, b)
		if err != nil {
			return 0, err
		}
		*m = CommandResultItem{}
		if num == 1 {
			m.Request = &RequestCommandResultItem{}
			err = m.Request.unmarshal(v)
		} else {
			m.SingleRequest = &SingleRequestResultItem{}
			err = m.SingleRequest.unmarshal(v)
		}
		return n, err
	})
}

// ErrEmptyOneof is returned when a oneof wrapper carries no member
var ErrEmptyOneof = errors.New("oneof has no member set")
