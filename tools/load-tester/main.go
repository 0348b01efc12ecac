package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/time/rate"
)

type record struct {
	Name           string            `json:"name"`
	HostIdentifier string            `json:"hostIdentifier"`
	UnixTime       int64             `json:"unixTime"`
	CalendarTime   string            `json:"calendarTime"`
	Action         string            `json:"action"`
	Columns        map[string]string `json:"columns"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Base URL of the ingest server")
	secret := flag.String("secret", "supersecret", "Enroll secret")
	concurrency := flag.Int("c", 10, "Number of concurrent agents")
	duration := flag.Duration("d", 30*time.Second, "Duration of the load test")
	rps := flag.Int("rps", 100, "Requests per second limit")
	batch := flag.Int("batch", 50, "Records per /log request")
	compress := flag.Bool("gzip", true, "gzip request bodies")
	flag.Parse()

	log.Printf("Starting load test on %s", *baseURL)
	log.Printf("Agents: %d, Duration: %s, RPS: %d, Batch: %d", *concurrency, *duration, *rps, *batch)

	var wg sync.WaitGroup
	var successCount, errorCount, recordCount atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*rps), *concurrency)

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(agentID int) {
			defer wg.Done()
			client := &http.Client{Timeout: 30 * time.Second}
			host := fmt.Sprintf("load-agent-%d-%s", agentID, uuid.NewString()[:8])

			nodeKey, err := enroll(ctx, client, *baseURL, *secret, host)
			if err != nil {
				log.Printf("agent %d: enroll failed: %v", agentID, err)
				errorCount.Add(1)
				return
			}

			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				body, err := resultLog(nodeKey, host, *batch)
				if err != nil {
					log.Fatalf("failed to build payload: %v", err)
				}
				status, err := post(ctx, client, *baseURL+"/log", body, *compress)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					errorCount.Add(1)
					continue
				}
				if status == http.StatusOK {
					successCount.Add(1)
					recordCount.Add(int64(*batch))
				} else {
					errorCount.Add(1)
				}
			}
		}(i)
	}

	wg.Wait()

	totalRequests := successCount.Load() + errorCount.Load()
	log.Println("Load test finished.")
	log.Printf("Total Requests: %d", totalRequests)
	log.Printf("Successful (200 OK): %d", successCount.Load())
	log.Printf("Errors: %d", errorCount.Load())
	log.Printf("Records: %d", recordCount.Load())
	log.Printf("Actual RPS: %.2f", float64(totalRequests)/duration.Seconds())
}

func enroll(ctx context.Context, client *http.Client, baseURL, secret, host string) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"enroll_secret":   secret,
		"host_identifier": host,
		"host_details":    map[string]any{"os_version": map[string]string{"platform": "linux"}},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/enroll", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		NodeKey     string `json:"node_key"`
		NodeInvalid bool   `json:"node_invalid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.NodeInvalid || out.NodeKey == "" {
		return "", fmt.Errorf("enrollment rejected (status %d)", resp.StatusCode)
	}
	return out.NodeKey, nil
}

// resultLog builds a batch of pod records; every fifth one is privileged.
func resultLog(nodeKey, host string, n int) ([]byte, error) {
	now := time.Now().UTC()
	records := make([]record, n)
	for i := range records {
		privileged := "0"
		if i%5 == 0 {
			privileged = "1"
		}
		records[i] = record{
			Name:           "kubernetes_pods",
			HostIdentifier: host,
			UnixTime:       now.Unix(),
			CalendarTime:   now.Format(time.RFC1123),
			Action:         "added",
			Columns: map[string]string{
				"name":       fmt.Sprintf("pod-%s", uuid.NewString()[:8]),
				"namespace":  "default",
				"privileged": privileged,
			},
		}
	}
	return json.Marshal(map[string]any{
		"node_key": nodeKey,
		"log_type": "result",
		"data":     records,
	})
}

func post(ctx context.Context, client *http.Client, url string, body []byte, compress bool) (int, error) {
	var buf bytes.Buffer
	if compress {
		zw := gzip.NewWriter(&buf)
		zw.Write(body)
		if err := zw.Close(); err != nil {
			return 0, err
		}
	} else {
		buf.Write(body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if compress {
		req.Header.Set("Content-Encoding", "gzip")
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
