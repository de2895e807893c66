package aggregator

import (
	"maps"
	"net/netip"
	"time"
)

type ErrorKind string

const (
	AddressErrorKind  ErrorKind = "address"
	ExcludedErrorKind ErrorKind = "excluded"
	TimeErrorKind     ErrorKind = "time"
	ResolveErrorKind  ErrorKind = "unresolved"
)

// ObservationError records an observation that did not contribute to any network.
type ObservationError struct {
	Kind    ErrorKind  `json:"kind"`
	Address string     `json:"address"`
	Addr    netip.Addr `json:"-"`
	Time    time.Time  `json:"time"`
	HasTime bool       `json:"-"`
	Detail  string     `json:"detail,omitempty"`
}

const DefaultErrorSampleLimit = 1000

// ErrorLog groups the observations which were rejected, by reason. Only the first observations of each kind are
// kept once the limit is reached, the rest are counted in Omitted.
type ErrorLog struct {
	Address    []ObservationError `json:"address"`
	Excluded   []ObservationError `json:"excluded"`
	Time       []ObservationError `json:"time"`
	Unresolved []ObservationError `json:"unresolved"`
	Omitted    map[ErrorKind]int  `json:"omitted,omitempty"`

	limit int
}

func (errorLog *ErrorLog) add(entry ObservationError) {
	var list *[]ObservationError

	switch entry.Kind {
	case AddressErrorKind:
		list = &errorLog.Address
	case ExcludedErrorKind:
		list = &errorLog.Excluded
	case TimeErrorKind:
		list = &errorLog.Time
	case ResolveErrorKind:
		errorLog.Unresolved = append(errorLog.Unresolved, entry)
		return
	default:
		return
	}

	if errorLog.limit > 0 && len(*list) >= errorLog.limit {
		if errorLog.Omitted == nil {
			errorLog.Omitted = make(map[ErrorKind]int)
		}
		errorLog.Omitted[entry.Kind]++
		return
	}

	*list = append(*list, entry)
}

// All returns every entry ordered by kind.
func (errorLog *ErrorLog) All() []ObservationError {
	all := make([]ObservationError, 0, len(errorLog.Address)+len(errorLog.Excluded)+len(errorLog.Time)+len(errorLog.Unresolved))
	all = append(all, errorLog.Address...)
	all = append(all, errorLog.Excluded...)
	all = append(all, errorLog.Time...)
	return append(all, errorLog.Unresolved...)
}

func (errorLog *ErrorLog) clone() ErrorLog {
	return ErrorLog{
		Address:    append([]ObservationError(nil), errorLog.Address...),
		Excluded:   append([]ObservationError(nil), errorLog.Excluded...),
		Time:       append([]ObservationError(nil), errorLog.Time...),
		Unresolved: append([]ObservationError(nil), errorLog.Unresolved...),
		Omitted:    maps.Clone(errorLog.Omitted),
		limit:      errorLog.limit,
	}
}
