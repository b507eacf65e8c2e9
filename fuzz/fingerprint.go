package fuzz

import (
	"fmt"
	"strings"

	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/report"
	"github.com/wiretamper/wiretamper/workflow"
)

// Fingerprint summarizes how the peer answered one run
type Fingerprint struct {
	Received          []message.Kind `cbor:"received" json:"received"`
	Unknown           int            `cbor:"unknown" json:"unknown"`
	IOError           bool           `cbor:"io_error" json:"io_error"`
	Socket            string         `cbor:"socket" json:"socket"`
	ExecutedAsPlanned bool           `cbor:"executed_as_planned" json:"executed_as_planned"`
}

// TakeFingerprint reads the executed trace and the report of its run
func TakeFingerprint(t *workflow.Trace, r *report.Report) Fingerprint {
	return Fingerprint{
		Received:          t.ReceivedKinds(),
		Unknown:           t.UnknownReceived(),
		IOError:           r.Error != "",
		Socket:            r.Socket,
		ExecutedAsPlanned: t.ExecutedAsPlanned(),
	}
}

func (f Fingerprint) Equal(other Fingerprint) bool {
	if len(f.Received) != len(other.Received) {
		return false
	}
	for i := range f.Received {
		if f.Received[i] != other.Received[i] {
			return false
		}
	}
	return f.Unknown == other.Unknown &&
		f.IOError == other.IOError &&
		f.Socket == other.Socket &&
		f.ExecutedAsPlanned == other.ExecutedAsPlanned
}

func (f Fingerprint) String() string {
	kinds := make([]string, len(f.Received))
	for i, k := range f.Received {
		kinds[i] = k.String()
	}
	return fmt.Sprintf("[%s] unknown=%d io_error=%t socket=%s as_planned=%t",
		strings.Join(kinds, ","), f.Unknown, f.IOError, f.Socket, f.ExecutedAsPlanned)
}
