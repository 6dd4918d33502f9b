package connection

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mdlayher/vsock"
)

// vsockRequest/vsockResponse are the wire messages exchanged with a guest
// agent listening on a vsock port, one JSON object per line.
type vsockRequest struct {
	Op      string            `json:"op"`
	Command string            `json:"command,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	WorkDir string            `json:"work_dir,omitempty"`
	Local   string            `json:"local,omitempty"`
	Remote  string            `json:"remote,omitempty"`
	Data    []byte            `json:"data,omitempty"`
}

type vsockResponse struct {
	Success bool   `json:"success"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
	RC      int    `json:"rc"`
	Error   string `json:"error,omitempty"`
	Data    []byte `json:"data,omitempty"`
}

// VSock is a Connection to a guest VM's in-band agent over AF_VSOCK,
// avoiding the need for an IP-reachable network path between the
// controller and a micro-VM or Firecracker-style sandboxed target.
type VSock struct {
	cid    uint32
	port   uint32
	conn   *vsock.Conn
	reader *bufio.Reader
}

// DialVSock opens a vsock connection to the given context id and port.
func DialVSock(ctx context.Context, cid, port uint32) (*VSock, error) {
	conn, err := vsock.Dial(cid, port, nil)
	if err != nil {
		return nil, fmt.Errorf("vsock: dial cid=%d port=%d: %w", cid, port, err)
	}
	return &VSock{cid: cid, port: port, conn: conn, reader: bufio.NewReader(conn)}, nil
}

func (v *VSock) Identifier() string {
	return fmt.Sprintf("vsock://%d:%d", v.cid, v.port)
}

func (v *VSock) roundTrip(ctx context.Context, req vsockRequest) (vsockResponse, error) {
	if deadline, ok := ctx.Deadline(); ok {
		v.conn.SetDeadline(deadline)
	} else {
		v.conn.SetDeadline(time.Time{})
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return vsockResponse{}, err
	}
	payload = append(payload, '\n')
	if _, err := v.conn.Write(payload); err != nil {
		return vsockResponse{}, fmt.Errorf("vsock: write request: %w", err)
	}

	line, err := v.reader.ReadBytes('\n')
	if err != nil && !(err == io.EOF && len(line) > 0) {
		return vsockResponse{}, fmt.Errorf("vsock: read response: %w", err)
	}

	var resp vsockResponse
	if err := json.Unmarshal(bytes.TrimSpace(line), &resp); err != nil {
		return vsockResponse{}, fmt.Errorf("vsock: decode response: %w", err)
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("vsock: agent error: %s", resp.Error)
	}
	return resp, nil
}

func (v *VSock) Execute(ctx context.Context, command string, opts ExecuteOptions) (CommandResult, error) {
	resp, err := v.roundTrip(ctx, vsockRequest{
		Op:      "execute",
		Command: wrapEscalation(command, opts),
		Env:     opts.Environment,
		WorkDir: opts.WorkDir,
	})
	if err != nil {
		return CommandResult{}, err
	}
	return CommandResult{Success: resp.Success, Stdout: resp.Stdout, Stderr: resp.Stderr, RC: resp.RC}, nil
}

func (v *VSock) PutFile(ctx context.Context, local, remote string, opts ExecuteOptions) error {
	data, err := os.ReadFile(local)
	if err != nil {
		return fmt.Errorf("vsock: read local file %s: %w", local, err)
	}
	_, err = v.roundTrip(ctx, vsockRequest{Op: "put_file", Remote: remote, Data: data})
	return err
}

func (v *VSock) FetchFile(ctx context.Context, remote, local string, opts ExecuteOptions) error {
	resp, err := v.roundTrip(ctx, vsockRequest{Op: "fetch_file", Remote: remote})
	if err != nil {
		return err
	}
	return os.WriteFile(local, resp.Data, 0o644)
}

func (v *VSock) Close() error {
	return v.conn.Close()
}
