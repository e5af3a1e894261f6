// pipe9x-check exercises an endpoint pair end to end: a small round trip,
// a backpressure fill/drain cycle with byte accounting, and the broken-pipe
// end-of-stream sequence. It exits non-zero if any property fails and can
// emit a machine-readable report.
package main

import (
	"bytes"
	"errors"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/solemnwarning/pipe9x/pkg/config"
	"github.com/solemnwarning/pipe9x/pkg/observability"
	"github.com/solemnwarning/pipe9x/pkg/pipe"
	"github.com/solemnwarning/pipe9x/pkg/report"
)

func main() {
	os.Exit(run(ParseFlags(os.Args[1:])))
}

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}
	if opts.ReportPath != "" {
		cfg.Check.ReportPath = opts.ReportPath
	}
	if opts.ThreadBackend {
		cfg.Pipe.ForceThreadBackend = true
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("pipe9x-check started", zap.String("app", cfg.AppName))

	var pipeOpts []pipe.Option
	if cfg.Pipe.ForceThreadBackend {
		pipeOpts = append(pipeOpts, pipe.WithThreadBackend())
	}
	r, w, err := pipe.New(
		pipe.EndpointConfig{BufferSize: cfg.Pipe.ReadBufferSize, Inherit: cfg.Pipe.ReadInherit, SDDL: cfg.Pipe.SDDL},
		pipe.EndpointConfig{BufferSize: cfg.Pipe.WriteBufferSize, Inherit: cfg.Pipe.WriteInherit, SDDL: cfg.Pipe.SDDL},
		pipeOpts...,
	)
	if err != nil {
		zap.L().Error("failed to create endpoint pair", zap.Error(err))
		return 1
	}
	defer r.Close()

	rep := &report.Report{
		Backend:         r.Backend().String(),
		ReadBufferSize:  r.Capacity(),
		WriteBufferSize: w.Capacity(),
		StartedAt:       time.Now().UTC(),
	}
	zap.L().Info("endpoint pair created",
		zap.String("backend", rep.Backend),
		zap.Int("read_buffer", rep.ReadBufferSize),
		zap.Int("write_buffer", rep.WriteBufferSize))

	start := time.Now()
	checkRoundTrip(r, w, rep)
	written, read := checkBackpressure(r, w, cfg.Check, rep)
	checkBrokenPipe(r, w, rep)
	rep.BytesWritten = written
	rep.BytesRead = read
	rep.Duration = time.Since(start).String()
	rep.Finalize()

	if cfg.Check.ReportPath != "" {
		codec, err := report.ForFormat(cfg.Check.ReportFormat)
		if err != nil {
			zap.L().Error("bad report format", zap.Error(err))
			return 1
		}
		if err := rep.WriteFile(cfg.Check.ReportPath, codec); err != nil {
			zap.L().Error("failed to write report", zap.Error(err))
			return 1
		}
		zap.L().Info("report written", zap.String("path", cfg.Check.ReportPath))
	}

	if !rep.Passed {
		zap.L().Error("validation failed",
			zap.String("round_trip", rep.RoundTrip.Detail),
			zap.String("backpressure", rep.Backpressure.Detail),
			zap.String("broken_pipe", rep.BrokenPipe.Detail))
		return 1
	}
	zap.L().Info("validation passed",
		zap.Int64("bytes_written", rep.BytesWritten),
		zap.Int64("bytes_read", rep.BytesRead),
		zap.String("duration", rep.Duration))
	return 0
}

// checkRoundTrip writes 64 bytes of 0xFF and reads them back.
func checkRoundTrip(r *pipe.ReadEndpoint, w *pipe.WriteEndpoint, rep *report.Report) {
	payload := bytes.Repeat([]byte{0xFF}, 64)
	if err := w.Initiate(payload); err != nil {
		rep.RoundTrip.Fail("write initiate: %v", err)
		return
	}
	n, err := w.Result(true)
	if err != nil || n != len(payload) {
		rep.RoundTrip.Fail("write result: n=%d err=%v", n, err)
		return
	}
	if err := r.Initiate(); err != nil {
		rep.RoundTrip.Fail("read initiate: %v", err)
		return
	}
	data, err := r.Result(true)
	if err != nil {
		rep.RoundTrip.Fail("read result: %v", err)
		return
	}
	if !bytes.Equal(data, payload) {
		rep.RoundTrip.Fail("payload mismatch: read %d bytes", len(data))
		return
	}
	rep.RoundTrip.Pass("64 bytes echoed")
	zap.L().Info("round trip ok")
}

// checkBackpressure fills the pipe with chunks of 0xDD until a write stays
// incomplete past the stall timeout, then drains the pipe while the stalled
// write completes, and verifies total bytes written equals total bytes read.
// It returns the totals for the report.
func checkBackpressure(r *pipe.ReadEndpoint, w *pipe.WriteEndpoint, cc config.CheckConfig, rep *report.Report) (written, read int64) {
	chunk := bytes.Repeat([]byte{0xDD}, cc.ChunkSize)
	stallTimeout := time.Duration(cc.StallTimeoutMS) * time.Millisecond

	// Fill until a write stalls. The chunk count guard only trips if the OS
	// pipe buffer is effectively unbounded.
	const maxChunks = 1 << 14
	stalled := false
	chunks := 0
	for ; chunks < maxChunks; chunks++ {
		if err := w.Initiate(chunk); err != nil {
			rep.Backpressure.Fail("fill initiate: %v", err)
			return written, read
		}
		if !w.Signal().Wait(stallTimeout) {
			stalled = true
			break
		}
		n, err := w.Result(false)
		if err != nil {
			rep.Backpressure.Fail("fill result: %v", err)
			return written, read
		}
		written += int64(n)
	}
	if !stalled {
		rep.Backpressure.Fail("write never stalled after %d chunks", chunks)
		return written, read
	}
	zap.L().Info("write stalled", zap.Int("chunks", chunks), zap.Int64("bytes_buffered", written))

	// The stalled write completes only once the reader frees pipe space, so
	// the two sides run concurrently. The reader learns the final total
	// through totalCh and polls with a short wait so it can never hang on a
	// read initiated after the last byte. The writer closes totalCh on exit
	// so a writer failure also stops the drain.
	totalCh := make(chan int64, 1)
	var g errgroup.Group
	g.Go(func() error {
		defer close(totalCh)
		n, err := w.Result(true)
		if err != nil {
			return err
		}
		written += int64(n)
		totalCh <- written
		return nil
	})
	g.Go(func() error {
		total := int64(-1)
		for {
			if total < 0 {
				select {
				case t, ok := <-totalCh:
					if !ok {
						// Writer failed without a total; its error is
						// what Wait reports.
						return nil
					}
					total = t
				default:
				}
			}
			if total >= 0 && read >= total {
				return nil
			}
			if !r.Pending() {
				if err := r.Initiate(); err != nil {
					return err
				}
			}
			if !r.Signal().Wait(100 * time.Millisecond) {
				continue
			}
			data, err := r.Result(false)
			if err != nil {
				return err
			}
			read += int64(len(data))
		}
	})
	if err := g.Wait(); err != nil {
		rep.Backpressure.Fail("drain: %v", err)
		return written, read
	}

	if read != written {
		rep.Backpressure.Fail("read %d bytes, wrote %d", read, written)
		return written, read
	}
	rep.Backpressure.Pass("")
	zap.L().Info("backpressure ok", zap.Int64("bytes", written))
	return written, read
}

// checkBrokenPipe closes the write endpoint and verifies the reader drains
// any remaining bytes before observing end-of-stream. A read left pending by
// the drain phase counts as the final stalled read and must now resolve.
func checkBrokenPipe(r *pipe.ReadEndpoint, w *pipe.WriteEndpoint, rep *report.Report) {
	if err := w.Close(); err != nil {
		rep.BrokenPipe.Fail("write close: %v", err)
		return
	}
	for {
		if !r.Pending() {
			if err := r.Initiate(); err != nil {
				rep.BrokenPipe.Fail("read initiate: %v", err)
				return
			}
		}
		data, err := r.Result(true)
		if errors.Is(err, io.EOF) {
			rep.BrokenPipe.Pass("")
			zap.L().Info("broken pipe observed after drain")
			return
		}
		if err != nil {
			rep.BrokenPipe.Fail("read result: %v", err)
			return
		}
		// Leftover bytes are legal; end-of-stream must come after them.
		zap.L().Info("drained leftover bytes", zap.Int("n", len(data)))
	}
}
