// Package scan talks to a ClamAV daemon over its TCP INSTREAM protocol.
//
// The scanner is advisory by default: an unreachable daemon surfaces as an
// error the intake gateway maps to an admitted-but-skipped scan result,
// unless scanning is configured as required.
package scan

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/oxbow-systems/sluice/iox"
)

// Status is a scan outcome.
type Status string

// Scan outcomes.
const (
	StatusClean    Status = "clean"
	StatusInfected Status = "infected"
)

// Result is the outcome of one scan.
type Result struct {
	Status    Status
	Signature string // virus signature name when infected
}

// Scanner is the malware scanning contract.
type Scanner interface {
	Scan(ctx context.Context, data []byte) (Result, error)
}

// streamChunkSize is the INSTREAM chunk size. clamd's default StreamMaxLength
// comfortably exceeds this.
const streamChunkSize = 64 * 1024

// Clamd scans via a clamd daemon at a TCP address.
type Clamd struct {
	addr   string
	dialer net.Dialer
}

var _ Scanner = (*Clamd)(nil)

// NewClamd creates a scanner against addr (host:port).
func NewClamd(addr string) *Clamd {
	return &Clamd{addr: addr, dialer: net.Dialer{Timeout: 5 * time.Second}}
}

// Ping checks daemon liveness.
func (c *Clamd) Ping(ctx context.Context) error {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("scan: dial clamd: %w", err)
	}
	defer iox.DiscardClose(conn)
	applyDeadline(ctx, conn)

	if _, err := conn.Write([]byte("zPING\x00")); err != nil {
		return fmt.Errorf("scan: ping: %w", err)
	}
	reply, err := readReply(conn)
	if err != nil {
		return fmt.Errorf("scan: ping reply: %w", err)
	}
	if reply != "PONG" {
		return fmt.Errorf("scan: unexpected ping reply %q", reply)
	}
	return nil
}

// Scan streams data to clamd and reports the verdict. Connectivity and
// protocol failures are returned as errors; the caller decides whether a
// failed scan blocks admission.
func (c *Clamd) Scan(ctx context.Context, data []byte) (Result, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return Result{}, fmt.Errorf("scan: dial clamd: %w", err)
	}
	defer iox.DiscardClose(conn)
	applyDeadline(ctx, conn)

	if _, err := conn.Write([]byte("zINSTREAM\x00")); err != nil {
		return Result{}, fmt.Errorf("scan: start stream: %w", err)
	}

	// Each chunk is a 4-byte big-endian length prefix followed by the bytes;
	// a zero-length chunk terminates the stream.
	var size [4]byte
	for off := 0; off < len(data); off += streamChunkSize {
		end := min(off+streamChunkSize, len(data))
		binary.BigEndian.PutUint32(size[:], uint32(end-off))
		if _, err := conn.Write(size[:]); err != nil {
			return Result{}, fmt.Errorf("scan: write chunk size: %w", err)
		}
		if _, err := conn.Write(data[off:end]); err != nil {
			return Result{}, fmt.Errorf("scan: write chunk: %w", err)
		}
	}
	binary.BigEndian.PutUint32(size[:], 0)
	if _, err := conn.Write(size[:]); err != nil {
		return Result{}, fmt.Errorf("scan: terminate stream: %w", err)
	}

	reply, err := readReply(conn)
	if err != nil {
		return Result{}, fmt.Errorf("scan: read verdict: %w", err)
	}
	return parseVerdict(reply)
}

func applyDeadline(ctx context.Context, conn net.Conn) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
}

// readReply reads a NUL-terminated clamd reply.
func readReply(conn net.Conn) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if i := indexByte(buf[:n], 0); i >= 0 {
				sb.Write(buf[:i])
				return strings.TrimSpace(sb.String()), nil
			}
			sb.Write(buf[:n])
		}
		if err != nil {
			// EOF after data is a complete reply from older daemons.
			if sb.Len() > 0 {
				return strings.TrimSpace(sb.String()), nil
			}
			return "", err
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// parseVerdict interprets a clamd INSTREAM reply:
//
//	stream: OK
//	stream: Eicar-Signature FOUND
//	INSTREAM size limit exceeded. ERROR
func parseVerdict(reply string) (Result, error) {
	switch {
	case strings.HasSuffix(reply, "OK"):
		return Result{Status: StatusClean}, nil
	case strings.HasSuffix(reply, "FOUND"):
		sig := strings.TrimSuffix(reply, " FOUND")
		if i := strings.Index(sig, ": "); i >= 0 {
			sig = sig[i+2:]
		}
		return Result{Status: StatusInfected, Signature: sig}, nil
	default:
		return Result{}, fmt.Errorf("scan: clamd error: %s", reply)
	}
}
