// Command sessionsim drives one synthetic playtest session end to end
// against a running service: create project, stream readings, post chunk
// observations, finalize, and print the verdicts.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"

	"playtest-telemetry-service/internal/models"
	"playtest-telemetry-service/internal/specstore"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "service base URL")
	specPath := flag.String("spec", "", "optional segment spec YAML file")
	duration := flag.Int("duration", 60, "session duration in seconds")
	flag.Parse()

	specs := defaultSpecs()
	projectName := "sim-project"
	gameName := "Simulated Game"
	if *specPath != "" {
		f, err := specstore.Load(*specPath)
		if err != nil {
			log.Fatalf("failed to load spec file: %v", err)
		}
		specs = f.Segments
		projectName = f.Project
		gameName = f.GameName
	}

	c := &client{base: *addr}

	var project models.Project
	c.post("/v1/projects", map[string]any{
		"name": projectName, "game_name": gameName, "specs": specs,
	}, &project)
	log.Printf("created project %s", project.ID)

	var sess models.Session
	c.post(fmt.Sprintf("/v1/projects/%s/sessions", project.ID), map[string]any{
		"tester_name": "sim-tester",
	}, &sess)
	log.Printf("created session %s", sess.ID)

	c.post(fmt.Sprintf("/v1/sessions/%s/readings/affect", sess.ID), map[string]any{
		"readings": affectReadings(sess.ID, *duration, specs),
	}, nil)
	c.post(fmt.Sprintf("/v1/sessions/%s/readings/physio", sess.ID), map[string]any{
		"readings": physioReadings(sess.ID, *duration),
	}, nil)
	log.Printf("streamed readings for %ds", *duration)

	for _, chunk := range chunkObservations(sess.ID, *duration, specs) {
		c.post(fmt.Sprintf("/v1/sessions/%s/chunks", sess.ID), chunk, nil)
	}

	var result struct {
		Score    models.SessionScore `json:"score"`
		Verdicts []models.Verdict    `json:"verdicts"`
	}
	c.post(fmt.Sprintf("/v1/sessions/%s/finalize", sess.ID), map[string]any{
		"duration_sec": *duration,
	}, &result)

	log.Printf("session score: %.2f (pass=%d warn=%d fail=%d)",
		result.Score.Score, result.Score.PassCount, result.Score.WarnCount, result.Score.FailCount)
	for _, v := range result.Verdicts {
		log.Printf("  %s[%d]: %s dominant=%s deviation=%.3f",
			v.SegmentName, v.OccurrenceIndex, v.Outcome, v.DominantDimension, v.DeviationScore)
	}
}

type client struct {
	base string
}

func (c *client) post(path string, body, out any) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("marshal %s: %v", path, err)
	}
	resp, err := http.Post(c.base+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		log.Fatalf("POST %s: status %d: %s", path, resp.StatusCode, apiErr.Error)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("decode %s response: %v", path, err)
		}
	}
}

func defaultSpecs() []models.SegmentSpec {
	return []models.SegmentSpec{
		{
			Name:                "tutorial",
			Description:         "Guided opening section",
			TargetDimension:     "calm",
			AcceptableRange:     [2]float64{0.0, 0.4},
			ExpectedDurationSec: 30,
		},
		{
			Name:                "first_boss",
			Description:         "First combat spike",
			TargetDimension:     "excitement",
			AcceptableRange:     [2]float64{0.4, 0.9},
			ExpectedDurationSec: 30,
		},
	}
}

// affectReadings emits 2 Hz samples that drift toward each segment's target
// so a clean run mostly passes.
func affectReadings(sessionID string, duration int, specs []models.SegmentSpec) []models.SensorReading {
	var readings []models.SensorReading
	for i := 0; i < duration*2; i++ {
		t := float64(i) / 2
		segIdx := 0
		if len(specs) > 1 && int(t) >= duration/2 {
			segIdx = 1
		}
		target := specs[segIdx].TargetDimension
		lo, hi := specs[segIdx].AcceptableRange[0], specs[segIdx].AcceptableRange[1]
		values := map[string]float64{
			"calm":       0.1,
			"excitement": 0.1,
			"frustration": 0.05,
			models.BaselineDimension: 0.6,
		}
		values[target] = (lo+hi)/2 + 0.05*math.Sin(t/5)
		readings = append(readings, models.SensorReading{
			SessionID:    sessionID,
			TimestampSec: t,
			Values:       values,
		})
	}
	return readings
}

// physioReadings emits one heart-rate-derived arousal sample every 2s.
func physioReadings(sessionID string, duration int) []models.SensorReading {
	var readings []models.SensorReading
	for t := 0; t < duration; t += 2 {
		readings = append(readings, models.SensorReading{
			SessionID:    sessionID,
			TimestampSec: float64(t),
			Values: map[string]float64{
				"arousal": 0.4 + 0.1*math.Sin(float64(t)/10),
			},
		})
	}
	return readings
}

// chunkObservations claims 15s windows, switching segment halfway through the
// session like the reading generator does.
func chunkObservations(sessionID string, duration int, specs []models.SegmentSpec) []models.ChunkObservation {
	const windowSec = 15
	var chunks []models.ChunkObservation
	total := (duration + windowSec - 1) / windowSec
	for i := 0; i < total; i++ {
		start := float64(i * windowSec)
		end := math.Min(float64((i+1)*windowSec), float64(duration))
		segIdx := 0
		if len(specs) > 1 && int(start) >= duration/2 {
			segIdx = 1
		}
		chunks = append(chunks, models.ChunkObservation{
			SessionID:      sessionID,
			WindowIndex:    i,
			WindowStartSec: start,
			WindowEndSec:   end,
			StatesObserved: []models.StateObservation{
				{SegmentName: specs[segIdx].Name, Confidence: 0.9, OffsetSec: 0},
			},
			EndSegment: specs[segIdx].Name,
			EndStatus:  "progressing",
		})
	}
	return chunks
}
