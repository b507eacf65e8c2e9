package fuzz

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Finding is an iteration whose fingerprint differed from the baseline
type Finding struct {
	Campaign    string      `cbor:"campaign" json:"campaign"`
	Iteration   int         `cbor:"iteration" json:"iteration"`
	Seed        uint64      `cbor:"seed" json:"seed"`
	Mutations   []Mutation  `cbor:"mutations" json:"mutations"`
	Fingerprint Fingerprint `cbor:"fingerprint" json:"fingerprint"`
	ReportID    string      `cbor:"report_id" json:"report_id"`
	// Trace is the executed trace document
	Trace string `cbor:"trace" json:"trace"`
}

// Corpus is a file of CBOR encoded findings, one item after the other
type Corpus struct {
	path string
	lock *sync.Mutex
}

func NewCorpus(path string) *Corpus {
	return &Corpus{
		path: path,
		lock: new(sync.Mutex),
	}
}

func (c *Corpus) Path() string {
	return c.path
}

// Append adds a finding at the end of the file
func (c *Corpus) Append(f Finding) error {
	data, err := cbor.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding finding: %w", err)
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	file, err := os.OpenFile(c.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening corpus: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("writing corpus: %w", err)
	}
	return nil
}

// Load reads every finding. A missing file is an empty corpus.
func (c *Corpus) Load() ([]Finding, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	out := make([]Finding, 0)
	file, err := os.Open(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening corpus: %w", err)
	}
	defer file.Close()

	dec := cbor.NewDecoder(file)
	for {
		var f Finding
		err := dec.Decode(&f)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("decoding finding %d: %w", len(out), err)
		}
		out = append(out, f)
	}
}
