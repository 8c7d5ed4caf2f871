// Command jobrun drives the relay's async annotation flow from the command
// line: submit a video, poll until the job finishes, save the annotated
// result next to the input. With -live it instead runs the periodic
// frame-analysis loop against a still image.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"pose-relay/pkg/jobclient"
)

func main() {
	var (
		relayURL    string
		filePath    string
		outPath     string
		save        bool
		intervalMs  int
		live        bool
		durationSec int
	)
	flag.StringVar(&relayURL, "relay", "http://localhost:8080", "Relay base URL")
	flag.StringVar(&filePath, "file", "", "Video file to annotate (image file with -live)")
	flag.StringVar(&outPath, "out", "", "Where to write the annotated video (default: filename from the relay)")
	flag.BoolVar(&save, "save", false, "Ask the relay to persist the upload to the configured bucket")
	flag.IntVar(&intervalMs, "interval", 0, "Poll/capture interval in milliseconds (0 uses the package default)")
	flag.BoolVar(&live, "live", false, "Run the live-capture analyze loop instead of an annotation job")
	flag.IntVar(&durationSec, "duration", 10, "How long to run the live loop, in seconds")
	flag.Parse()

	if filePath == "" {
		fmt.Println("-file is required")
		os.Exit(1)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		fmt.Println("read input:", err)
		os.Exit(1)
	}

	interval := time.Duration(intervalMs) * time.Millisecond
	if live {
		runLive(relayURL, data, interval, time.Duration(durationSec)*time.Second)
		return
	}
	runJob(relayURL, filePath, data, outPath, save, interval)
}

func runJob(relayURL, filePath string, data []byte, outPath string, save bool, interval time.Duration) {
	done := make(chan int, 1)

	poller := jobclient.NewPoller(relayURL, interval, jobclient.Callbacks{
		OnState: func(s jobclient.State) {
			fmt.Println("state:", s)
		},
		OnProgress: func(st jobclient.Status) {
			if st.Percent != nil {
				fmt.Printf("progress: %s %.1f%%\n", st.Status, *st.Percent)
			} else {
				fmt.Println("progress:", st.Status)
			}
		},
		OnResult: func(result []byte, filename string) {
			target := outPath
			if target == "" {
				target = filename
			}
			if err := os.WriteFile(target, result, 0o644); err != nil {
				fmt.Println("write result:", err)
				done <- 1
				return
			}
			fmt.Printf("saved %d bytes to %s\n", len(result), target)
			done <- 0
		},
		OnError: func(err error) {
			fmt.Println("job failed:", err)
			done <- 1
		},
	})

	poller.Start(context.Background(), jobclient.Upload{
		Data:         data,
		Filename:     filePath,
		ContentType:  "video/mp4",
		SaveToBucket: save,
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case code := <-done:
		os.Exit(code)
	case <-quit:
		poller.Stop()
		fmt.Println("interrupted")
		os.Exit(130)
	}
}

func runLive(relayURL string, frame []byte, interval, duration time.Duration) {
	payload, err := json.Marshal(map[string]string{
		"image_base64": "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(frame),
	})
	if err != nil {
		fmt.Println("build payload:", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: 60 * time.Second}
	var calls int32

	driver := jobclient.NewCaptureDriver(interval, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, relayURL+"/analyze_frame", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			fmt.Println("analyze:", err)
			return err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		n := atomic.AddInt32(&calls, 1)
		fmt.Printf("analyze %d: HTTP %d %s\n", n, resp.StatusCode, bytes.TrimSpace(body))
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()
	driver.Start(ctx)
	<-ctx.Done()
	driver.Stop()

	fmt.Printf("live loop finished: %d calls, %d ticks skipped\n", atomic.LoadInt32(&calls), driver.SkippedTicks())
}
