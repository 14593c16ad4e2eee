package testutil

import (
	"net/http"

	"gopkg.in/dnaeon/go-vcr.v4/pkg/cassette"
	"gopkg.in/dnaeon/go-vcr.v4/pkg/recorder"
)

// NewRecordedClient opens (or creates) a cassette at fixturePath and
// returns an *http.Client whose transport replays recorded interactions
// when the cassette already exists, or records live traffic into it the
// first time it's run. This is the "plain-text archive of recorded
// interactions" test-scaffolding requirement of spec §2, backed by the
// teacher's unused go-vcr dependency instead of a hand-rolled format.
//
// The returned stop function must be called (typically via defer) to
// flush the cassette to disk.
func NewRecordedClient(fixturePath string) (*http.Client, func() error, error) {
	r, err := recorder.NewWithOptions(&recorder.Options{
		CassetteName: fixturePath,
		Mode:         recorder.ModeRecordOnce,
	})
	if err != nil {
		return nil, nil, err
	}

	r.SetMatcher(func(req *http.Request, cassetteReq cassette.Request) bool {
		return req.Method == cassetteReq.Method && req.URL.String() == cassetteReq.URL
	})

	return &http.Client{Transport: r}, r.Stop, nil
}
