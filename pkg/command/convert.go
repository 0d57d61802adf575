package command

import (
	"fmt"
	"math"
	"net/http"
	"net/netip"
	"time"

	"l7agent/pkg/api/heartbeatpb"
	"l7agent/pkg/client"
)

// maxEpochSeconds is the first second of year 10000
const maxEpochSeconds = 253402300800

// EpochToTime converts wire epoch seconds, rejecting values beyond year 9999
func EpochToTime(secs uint64) (time.Time, error) {
	if secs >= maxEpochSeconds {
		return time.Time{}, fmt.Errorf("timestamp %d out of range", secs)
	}
	return time.Unix(int64(secs), 0).UTC(), nil
}

func optionalTime(secs *uint64, field string) (*time.Time, error) {
	if secs == nil {
		return nil, nil
	}
	t, err := EpochToTime(*secs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCommand, field, err)
	}
	return &t, nil
}

func optionalSeconds(secs *uint64, field string) (*time.Duration, error) {
	if secs == nil {
		return nil, nil
	}
	if *secs > uint64(math.MaxInt64/int64(time.Second)) {
		return nil, fmt.Errorf("%w: %s: %d seconds out of range", ErrInvalidCommand, field, *secs)
	}
	d := time.Duration(*secs) * time.Second
	return &d, nil
}

func epoch(t *time.Time) *uint64 {
	if t == nil {
		return nil
	}
	v := uint64(t.Unix())
	return &v
}

func seconds(d *time.Duration) *uint64 {
	if d == nil {
		return nil
	}
	v := uint64(*d / time.Second)
	return &v
}

func windowFromWire(startAt, abortIfAfter *uint64) (Window, error) {
	start, err := optionalTime(startAt, "start_at")
	if err != nil {
		return Window{}, err
	}
	abort, err := optionalTime(abortIfAfter, "abort_if_after")
	if err != nil {
		return Window{}, err
	}
	return Window{StartAt: start, AbortIfAfter: abort}, nil
}

// FromWire converts one wire command
func FromWire(c *heartbeatpb.Command) (RemoteCommand, error) {
	switch {
	case c == nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, heartbeatpb.ErrEmptyOneof)
	case c.Request != nil:
		r, err := requestFromWire(c.Request)
		if err != nil {
			return nil, err
		}
		r.SingleRequest = false
		return r, nil
	case c.SingleRequest != nil:
		r, err := requestFromWire(c.SingleRequest)
		if err != nil {
			return nil, err
		}
		r.SingleRequest = true
		return r, nil
	case c.Shell != nil:
		return shellFromWire(c.Shell)
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, heartbeatpb.ErrEmptyOneof)
	}
}

func requestFromWire(m *heartbeatpb.RequestCommand) (*RequestCommand, error) {
	r := &RequestCommand{
		ConcurrentCount: m.ConcurrentCount,
		URL:             m.Url,
		Body:            m.Body,
		EnableRandom:    m.EnableRandom,
	}

	switch m.Method {
	case heartbeatpb.RequestMethod_GET:
		r.Method = http.MethodGet
	case heartbeatpb.RequestMethod_POST:
		r.Method = http.MethodPost
	default:
		return nil, fmt.Errorf("%w: request method %d", ErrInvalidCommand, m.Method)
	}

	if m.Ip != nil {
		addr, err := netip.ParseAddr(*m.Ip)
		if err != nil {
			return nil, fmt.Errorf("%w: ip %q: %v", ErrInvalidCommand, *m.Ip, err)
		}
		r.IP = &addr
	}

	var err error
	if r.Time, err = optionalSeconds(m.Time, "time"); err != nil {
		return nil, err
	}
	if r.Timeout, err = optionalSeconds(m.Timeout, "timeout"); err != nil {
		return nil, err
	}
	if r.Window, err = windowFromWire(m.StartAt, m.AbortIfAfter); err != nil {
		return nil, err
	}

	for _, h := range m.Header {
		if h == nil {
			continue
		}
		r.Headers = append(r.Headers, client.Header{Key: h.Key, Value: h.Value})
	}
	return r, nil
}

func shellFromWire(m *heartbeatpb.ShellCommand) (*ShellCommand, error) {
	s := &ShellCommand{
		Shell:   m.Shell,
		Command: m.Command,
		WorkDir: m.WorkDir,
	}
	var err error
	if s.Timeout, err = optionalSeconds(m.Timeout, "timeout"); err != nil {
		return nil, err
	}
	if s.Window, err = windowFromWire(m.StartAt, m.AbortIfAfter); err != nil {
		return nil, err
	}
	return s, nil
}

// ToWire converts a command back to its wire form
func ToWire(c RemoteCommand) (*heartbeatpb.Command, error) {
	switch c := c.(type) {
	case *RequestCommand:
		m, err := requestToWire(c)
		if err != nil {
			return nil, err
		}
		if c.SingleRequest {
			return &heartbeatpb.Command{SingleRequest: m}, nil
		}
		return &heartbeatpb.Command{Request: m}, nil
	case *ShellCommand:
		return &heartbeatpb.Command{Shell: &heartbeatpb.ShellCommand{
			Shell:        c.Shell,
			Command:      c.Command,
			WorkDir:      c.WorkDir,
			Timeout:      seconds(c.Timeout),
			StartAt:      epoch(c.StartAt),
			AbortIfAfter: epoch(c.AbortIfAfter),
		}}, nil
	default:
		panic(fmt.Sprintf("unknown command %T", c))
	}
}

func requestToWire(c *RequestCommand) (*heartbeatpb.RequestCommand, error) {
	m := &heartbeatpb.RequestCommand{
		ConcurrentCount: c.ConcurrentCount,
		Url:             c.URL,
		Time:            seconds(c.Time),
		Body:            c.Body,
		Timeout:         seconds(c.Timeout),
		StartAt:         epoch(c.StartAt),
		AbortIfAfter:    epoch(c.AbortIfAfter),
		EnableRandom:    c.EnableRandom,
		SingleRequest:   c.SingleRequest,
	}

	switch c.Method {
	case http.MethodGet, "":
		m.Method = heartbeatpb.RequestMethod_GET
	case http.MethodPost:
		m.Method = heartbeatpb.RequestMethod_POST
	default:
		return nil, fmt.Errorf("%w: method %s has no wire form", ErrInvalidCommand, c.Method)
	}

	if c.IP != nil {
		ip := c.IP.String()
		m.Ip = &ip
	}
	for _, h := range c.Headers {
		m.Header = append(m.Header, &heartbeatpb.HttpHeader{Key: h.Key, Value: h.Value})
	}
	return m, nil
}

// BatchFromWire converts a group. Invalid commands are returned as errors next
// to the valid ones so a single bad command never rejects its siblings.
func BatchFromWire(g *heartbeatpb.ExecuteGroup) (ParallelCommands, []error) {
	if g == nil {
		return nil, nil
	}
	var (
		batch ParallelCommands
		errs  []error
	)
	for i, c := range g.Commands {
		rc, err := FromWire(c)
		if err != nil {
			errs = append(errs, fmt.Errorf("command %d: %w", i, err))
			continue
		}
		batch = append(batch, rc)
	}
	return batch, errs
}

// BatchToWire converts a batch to a group
func BatchToWire(p ParallelCommands) (*heartbeatpb.ExecuteGroup, error) {
	g := &heartbeatpb.ExecuteGroup{}
	for _, c := range p {
		m, err := ToWire(c)
		if err != nil {
			return nil, err
		}
		g.Commands = append(g.Commands, m)
	}
	return g, nil
}

// ResultToWire converts a result item
func ResultToWire(r Result) *heartbeatpb.CommandResultItem {
	switch r := r.(type) {
	case *RequestResult:
		return &heartbeatpb.CommandResultItem{Request: &heartbeatpb.RequestCommandResultItem{
			Code_2:    r.Stats.Status2xx,
			Code_3:    r.Stats.Status3xx,
			Code_4:    r.Stats.Status4xx,
			Code_5:    r.Stats.Status5xx,
			Failure:   r.Stats.Other,
			Timestamp: uint64(r.Timestamp.Unix()),
		}}
	case *SingleResult:
		return &heartbeatpb.CommandResultItem{SingleRequest: &heartbeatpb.SingleRequestResultItem{
			Code:      r.Code,
			Content:   r.Content,
			Timestamp: uint64(r.Timestamp.Unix()),
		}}
	default:
		panic(fmt.Sprintf("unknown result %T", r))
	}
}

// StatusToWire projects the executor status to the coarse wire enum
func StatusToWire(s Status) heartbeatpb.ClientStatus {
	switch s := s.(type) {
	case Idle:
		return heartbeatpb.ClientStatus_IDLE
	case Executing:
		return heartbeatpb.ClientStatus_REQUESTING
	case Waiting:
		return heartbeatpb.ClientStatus_REQUEST_PREPARING
	default:
		panic(fmt.Sprintf("unknown status %T", s))
	}
}
