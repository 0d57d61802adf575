// Package heartbeatpb holds the messages of the l7b.heartbeat service in the
// protobuf wire format and a grpc client and server for it.
package heartbeatpb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message is implemented by every top level message of the service
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal(b []byte) error
}

// ClientStatus is the coarse agent status reported in a heartbeat
type ClientStatus int32

const (
	ClientStatus_IDLE              ClientStatus = 0
	ClientStatus_REQUESTING        ClientStatus = 1
	ClientStatus_REQUEST_PREPARING ClientStatus = 2
)

func (s ClientStatus) String() string {
	switch s {
	case ClientStatus_IDLE:
		return "Idle"
	case ClientStatus_REQUESTING:
		return "Requesting"
	case ClientStatus_REQUEST_PREPARING:
		return "RequestPreparing"
	default:
		return fmt.Sprintf("ClientStatus(%d)", int32(s))
	}
}

// Empty carries no fields
type Empty struct{}

func (*Empty) appendTo(b []byte) []byte { return b }

// HeartBeat is sent by the agent on every round trip
type HeartBeat struct {
	Timestamp        uint64
	Status           ClientStatus
	CurrentCommandId *uint64
	CommandResult    []*CommandResultItem
	Ip               string
}

// Marshal encodes the message
func (m *HeartBeat) Marshal() ([]byte, error) {
	var b []byte
	b = appendVarint(b, 1, m.Timestamp)
	b = appendVarint(b, 2, uint64(m.Status))
	if m.CurrentCommandId != nil {
		b = appendOptionalVarint(b, 3, *m.CurrentCommandId)
	}
	for _, r := range m.CommandResult {
		b = appendMessage(b, 4, r)
	}
	b = appendString(b, 5, m.Ip)
	return b, nil
}

// Unmarshal decodes the message, replacing its content
func (m *HeartBeat) Unmarshal(b []byte) error {
	*m = HeartBeat{}
	return unmarshalFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			m.Timestamp = v
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, b)
			m.Status = ClientStatus(v)
			return n, err
		case 3:
			v, n, err := consumeVarint(typ, b)
			m.CurrentCommandId = &v
			return n, err
		case 4:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			r := &CommandResultItem{}
			if err := r.unmarshal(v); err != nil {
				return 0, err
			}
			m.CommandResult = append(m.CommandResult, r)
			return n, nil
		case 5:
			v, n, err := consumeString(typ, b)
			m.Ip = v
			return n, err
		}
		return 0, nil
	})
}

// NextOperation is what the controller wants the agent to do next. The set of
// implementations is closed.
type NextOperation interface {
	isNextOperation()
}

type (
	// KeepIdle leaves an idle agent idle
	KeepIdle struct{}
	// ContinueCurrent leaves the current run alone
	ContinueCurrent struct{}
	// StopCurrent stops the current run
	StopCurrent struct{}
	// StopAndExecute stops the current run and starts Group
	StopAndExecute struct{ Group *ExecuteGroup }
	// Execute starts Group next to whatever is running
	Execute struct{ Group *ExecuteGroup }
)

func (*KeepIdle) isNextOperation()        {}
func (*ContinueCurrent) isNextOperation() {}
func (*StopCurrent) isNextOperation()     {}
func (*StopAndExecute) isNextOperation()  {}
func (*Execute) isNextOperation()         {}

// ServerResponse is the controller's answer to a heartbeat
type ServerResponse struct {
	ServerTimestamp uint64
	CommandId       *uint64
	// NextOperation may be nil when the controller sent none
	NextOperation NextOperation
}

// Marshal encodes the message
func (m *ServerResponse) Marshal() ([]byte, error) {
	var b []byte
	b = appendVarint(b, 1, m.ServerTimestamp)
	if m.CommandId != nil {
		b = appendOptionalVarint(b, 2, *m.CommandId)
	}
	switch op := m.NextOperation.(type) {
	case nil:
	case *KeepIdle:
		b = appendMessage(b, 3, &Empty{})
	case *ContinueCurrent:
		b = appendMessage(b, 4, &Empty{})
	case *StopCurrent:
		b = appendMessage(b, 5, &Empty{})
	case *StopAndExecute:
		b = appendMessage(b, 6, groupOrEmpty(op.Group))
	case *Execute:
		b = appendMessage(b, 7, groupOrEmpty(op.Group))
	default:
		return nil, fmt.Errorf("unknown next operation %T", op)
	}
	return b, nil
}

func groupOrEmpty(g *ExecuteGroup) *ExecuteGroup {
	if g == nil {
		return &ExecuteGroup{}
	}
	return g
}

// Unmarshal decodes the message, replacing its content
func (m *ServerResponse) Unmarshal(b []byte) error {
	*m = ServerResponse{}
	return unmarshalFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			m.ServerTimestamp = v
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, b)
			m.CommandId = &v
			return n, err
		case 3, 4, 5:
			_, n, err := consumeBytes(typ, b)
			switch num {
			case 3:
				m.NextOperation = &KeepIdle{}
			case 4:
				m.NextOperation = &ContinueCurrent{}
			default:
				m.NextOperation = &StopCurrent{}
			}
			return n, err
		case 6, 7:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			g := &ExecuteGroup{}
			if err := g.unmarshal(v); err != nil {
				return 0, err
			}
			if num == 6 {
				m.NextOperation = &StopAndExecute{Group: g}
			} else {
				m.NextOperation = &Execute{Group: g}
			}
			return n, nil
		}
		return 0, nil
	})
}

// Marshal encodes the group on its own
func (m *ExecuteGroup) Marshal() ([]byte, error) {
	return m.appendTo(nil), nil
}

// Unmarshal decodes a group, replacing its content
func (m *ExecuteGroup) Unmarshal(b []byte) error {
	*m = ExecuteGroup{}
	return m.unmarshal(b)
}
