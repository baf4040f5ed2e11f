package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// InitResponse is the single line a party writes after its implicit INIT.
type InitResponse struct {
	PID                  int     `json:"PID" yaml:"PID"`
	LocalMinimumStepSize float64 `json:"LOCAL_MINIMUM_STEP_SIZE" yaml:"LOCAL_MINIMUM_STEP_SIZE"`
}

// WriteInitResponse writes the INIT response as one line.
func WriteInitResponse(w io.Writer, pid int, localMinimumStepSize float64) error {
	raw, err := json.Marshal(InitResponse{PID: pid, LocalMinimumStepSize: localMinimumStepSize})
	if err != nil {
		return err
	}
	raw = append(raw, '\n')
	_, err = w.Write(raw)
	return err
}

// ReadInitResponse reads one INIT response line. The line is decoded as
// YAML, which accepts the JSON form as well as a mapping literal.
func ReadInitResponse(r *bufio.Reader) (InitResponse, error) {
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return InitResponse{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	var resp InitResponse
	if err := yaml.Unmarshal([]byte(strings.TrimSpace(line)), &resp); err != nil {
		return InitResponse{}, fmt.Errorf("%w: %q: %w", ErrMalformedResponse, line, err)
	}
	if resp.PID <= 0 || resp.LocalMinimumStepSize <= 0 {
		return InitResponse{}, fmt.Errorf("%w: %q", ErrMalformedResponse, strings.TrimSpace(line))
	}
	return resp, nil
}
