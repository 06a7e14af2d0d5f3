package server

import (
	"log/slog"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"webrs/internal/errors"
	"webrs/internal/request"
	"webrs/internal/response"
)

const (
	// readBufferSize is the size of a single socket read.
	readBufferSize = 4096
	// maxHeaderBytes bounds the request line plus headers.
	maxHeaderBytes = 64 << 10
)

// connWriter serializes responses onto a connection.
type connWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

func (w *connWriter) write(res *response.Response) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return res.WriteTo(w.conn)
}

// serveConn runs the read, dispatch, write cycle until the client stops
// asking for keep-alive or the socket fails.
func (s *Server) serveConn(conn net.Conn) {
	log := s.logger.With("conn", uuid.NewString(), "remote", conn.RemoteAddr().String())
	log.Debug("Connection accepted")

	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()
	defer func() {
		if err := conn.Close(); err != nil {
			log.Debug("Error closing connection", "error", err)
		}
		log.Debug("Connection closed")
	}()

	w := &connWriter{conn: conn}
	buf := make([]byte, readBufferSize)
	var pending []byte

	for {
		raw, rest, err := s.readMessage(conn, pending, buf, log)
		if err != nil {
			s.rejectFraming(w, err, log)
			return
		}
		if raw == nil {
			return
		}
		pending = rest

		if !s.handle(w, raw, log) {
			return
		}
	}
}

// readMessage returns one message and any bytes read past it. A declared
// content-length frames the body; otherwise the body is every byte already
// read after the head. A nil message with a nil error means the
// connection is finished. The returned error is always an *errors.HTTPError
// whose status is worth reporting to the client.
func (s *Server) readMessage(conn net.Conn, acc, buf []byte, log *slog.Logger) (raw, rest []byte, err error) {
	retries := 0
	for {
		if end := request.HeaderEnd(acc); end >= 0 {
			n, ok := request.ContentLength(acc[:end])
			if !ok {
				// Without content-length the body is whatever arrived with the head.
				if int64(len(acc)-end) > s.cfg.MaxBodyBytes {
					return nil, nil, errors.New(errors.BodyTooLarge, nil)
				}
				return acc, nil, nil
			}
			if int64(n) > s.cfg.MaxBodyBytes {
				return nil, nil, errors.New(errors.BodyTooLarge, nil)
			}
			if total := end + n; len(acc) >= total {
				return acc[:total:total], append([]byte(nil), acc[total:]...), nil
			}
		} else if len(acc) > maxHeaderBytes {
			return nil, nil, errors.New(errors.MalformedFraming, nil)
		}

		if timeout := s.cfg.ReadTimeout(); timeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(timeout))
		}
		n, readErr := conn.Read(buf)
		if n > 0 {
			acc = append(acc, buf[:n]...)
			retries = 0
			continue
		}
		if readErr == nil {
			log.Debug("Zero-byte read, closing")
			return nil, nil, nil
		}

		switch errors.ClassifyIO(readErr) {
		case errors.PeerClosed:
			if len(acc) > 0 {
				log.Debug("Peer closed mid-message", "buffered", len(acc))
			}
			return nil, nil, nil
		case errors.TransientIO:
			retries++
			if retries > s.cfg.MaxReadRetries {
				log.Debug("Giving up after transient read errors", "retries", retries-1, "error", readErr)
				return nil, nil, nil
			}
			log.Debug("Transient read error, retrying", "attempt", retries, "error", readErr)
			time.Sleep(s.cfg.RetryDelay())
		default:
			log.Warn("Read failed", "error", readErr)
			return nil, nil, nil
		}
	}
}

// rejectFraming answers a message that could not be read in full. The
// connection is always closed afterwards.
func (s *Server) rejectFraming(w *connWriter, err error, log *slog.Logger) {
	code := errors.CodeOf(err)
	s.metrics.RecordParseError(string(code))
	log.Warn("Rejected request framing", "code", code)

	res := response.FromError(err)
	if _, werr := w.write(res); werr != nil {
		log.Debug("Failed to write error response", "error", werr)
	}
	s.metrics.RecordResponse(res.Status(), 0)
}

// handle parses, dispatches and answers one message. It reports whether the
// connection should stay open.
func (s *Server) handle(w *connWriter, raw []byte, log *slog.Logger) bool {
	start := time.Now()

	req, err := request.Parse(raw)
	if err != nil {
		code := errors.CodeOf(err)
		s.metrics.RecordParseError(string(code))
		log.Warn("Rejected malformed request", "code", code, "error", err)

		res := response.FromError(err)
		if !s.write(w, res, start, log) {
			return false
		}
		c, ok := request.RawHeader(raw, "connection")
		return ok && strings.EqualFold(strings.TrimSpace(c), "keep-alive")
	}

	s.metrics.RecordRequest(string(req.Method()))
	log.Debug("Parsed request", "req", req.ID(), "method", req.Method(), "path", req.Path(), "bytes", req.BodyLen())

	res, panicked := s.dispatch(req, log)
	if res == nil {
		res = response.Basic(400, "Bad Request")
	}
	if s.negotiator != nil {
		res = s.negotiator.Apply(req, res)
	}

	if !s.write(w, res, start, log) {
		return false
	}
	log.Info("Request completed", "req", req.ID(), "method", req.Method(), "path", req.Path(),
		"status", res.Status(), "durationMs", time.Since(start).Milliseconds())

	if panicked {
		return false
	}
	return req.KeepAlive()
}

// dispatch runs the dispatcher, turning a handler panic into a 500.
func (s *Server) dispatch(req *request.Request, log *slog.Logger) (res *response.Response, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic recovered", "req", req.ID(), "panic", r, "stack", string(debug.Stack()))
			res = response.Basic(500, errors.DescriptionFor(errors.InternalError))
			panicked = true
		}
	}()
	return s.dispatcher.Dispatch(req), false
}

func (s *Server) write(w *connWriter, res *response.Response, start time.Time, log *slog.Logger) bool {
	n, err := w.write(res)
	s.metrics.RecordResponse(res.Status(), time.Since(start))
	if err != nil {
		log.Warn("Failed to write response", "status", res.Status(), "error", err)
		return false
	}
	log.Debug("Wrote response", "status", res.Status(), "bytes", n)
	return true
}
