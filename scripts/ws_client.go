// Package main runs a demo WebSocket client for optimization job events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

func post(base, path string, body []byte) (*http.Response, error) {
	req, _ := http.NewRequest(http.MethodPost, base+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Role", "planner")
	return http.DefaultClient.Do(req)
}

func createID(base, path string, body []byte) string {
	resp, err := post(base, path, body)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatal(err)
	}
	return out.ID
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	guestID := createID(base, "/v1/guests", []byte(`{
		"name": "Demo Guest",
		"hotelName": "Harbor Hotel",
		"pickupLocation": {"name": "Harbor Hotel", "lat": 24.34, "lng": 124.156},
		"numAdults": 2
	}`))
	vehicleID := createID(base, "/v1/vehicles", []byte(`{
		"name": "Demo Van",
		"capacityAdults": 6,
		"capacityChildren": 2,
		"vehicleType": "van"
	}`))
	log.Printf("guest=%s vehicle=%s", guestID, vehicleID)

	reqBody, _ := json.Marshal(map[string]any{
		"tourDate":            time.Now().Format("2006-01-02"),
		"activityType":        "snorkeling",
		"destination":         map[string]any{"name": "Marina", "lat": 24.4086, "lng": 124.1397},
		"participantIds":      []string{guestID},
		"availableVehicleIds": []string{vehicleID},
		"departureTime":       "09:00",
	})
	resp, err := post(base, "/v1/optimize/route", reqBody)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var job struct {
		JobID string `json:"jobId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		log.Fatal(err)
	}
	log.Printf("job: %s", job.JobID)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/jobs/" + job.JobID + "/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var evt struct {
				Type   string `json:"type"`
				Status struct {
					Status             string `json:"status"`
					ProgressPercentage int    `json:"progressPercentage"`
					CurrentStep        string `json:"currentStep"`
				} `json:"status"`
			}
			if err := c.ReadJSON(&evt); err != nil {
				return
			}
			log.Printf("WS <- %s: %s %d%% %q", evt.Type,
				evt.Status.Status, evt.Status.ProgressPercentage, evt.Status.CurrentStep)
			if evt.Status.Status == "completed" || evt.Status.Status == "failed" {
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(60 * time.Second):
		log.Print("timed out waiting for job events")
	}
}
