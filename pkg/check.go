package pkg

import "time"

type ResultKind int

const (
	ResultSuccess ResultKind = iota
	ResultTimeout
	ResultOther
)

func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultTimeout:
		return "timeout"
	default:
		return "other"
	}
}

// ProbeOutcome is the result of one probe of one bind target. IP is set only
// for ResultSuccess, Message only for ResultOther.
type ProbeOutcome struct {
	Target   BindTarget
	Kind     ResultKind
	IP       string
	Message  string
	Duration time.Duration
}

func Success(t BindTarget, ip string) ProbeOutcome {
	return ProbeOutcome{Target: t, Kind: ResultSuccess, IP: ip}
}

func Timeout(t BindTarget) ProbeOutcome {
	return ProbeOutcome{Target: t, Kind: ResultTimeout}
}

func Other(t BindTarget, message string) ProbeOutcome {
	return ProbeOutcome{Target: t, Kind: ResultOther, Message: message}
}
