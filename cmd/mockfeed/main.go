// Command mockfeed stands in for both upstreams during local runs: it serves a
// Buienradar-shaped feed and random-looking JPEG photos.
//
// Usage:
//
//	go run ./cmd/mockfeed -addr :8090
//
// then point the services at it:
//
//	FEED_URL=http://localhost:8090/2.0/feed/json
//	PHOTO_URL=http://localhost:8090/800/400
package main

import (
	"encoding/json"
	"flag"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

const maxPhotoSide = 2000

// station is one feed entry. Temperatures are any to mirror the real feed,
// which mixes numbers and comma-decimal strings.
type station struct {
	RefID             string `json:"$id"`
	StationID         int    `json:"stationid"`
	StationName       string `json:"stationname"`
	FeelTemperature   any    `json:"feeltemperature,omitempty"`
	GroundTemperature any    `json:"groundtemperature,omitempty"`
}

var stations = []station{
	{RefID: "1", StationID: 6240, StationName: "Meetstation Amsterdam", FeelTemperature: 8.5, GroundTemperature: 6.0},
	{RefID: "2", StationID: 6344, StationName: "Meetstation Rotterdam", FeelTemperature: "7,2", GroundTemperature: "5,5"},
	{RefID: "3", StationID: 6260, StationName: "Meetstation De Bilt", FeelTemperature: 7.9},
	{RefID: "4", StationID: 6330, StationName: "Meetstation Hoek van Holland", FeelTemperature: "6,4", GroundTemperature: 4.1},
	{RefID: "5", StationID: 6280, StationName: "Meetstation Groningen/Eelde", FeelTemperature: 5.1, GroundTemperature: "3,0"},
}

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	count := flag.Int("stations", len(stations), "number of stations in the feed (max "+strconv.Itoa(len(stations))+")")
	latency := flag.Duration("latency", 0, "artificial delay before every response")
	failFeed := flag.Bool("fail-feed", false, "answer the feed with 503")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	n := min(max(*count, 0), len(stations))
	feed, err := json.Marshal(map[string]any{
		"$id": "1",
		"actual": map[string]any{
			"actualradarurl":      "https://api.buienradar.nl/image/1.0/RadarMapNL",
			"sunrise":             time.Now().UTC().Format("2006-01-02T15:04:05"),
			"stationmeasurements": stations[:n],
		},
	})
	if err != nil {
		logger.Error("encode feed", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /2.0/feed/json", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(*latency)
		if *failFeed {
			http.Error(w, "feed disabled", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(feed)
	})
	mux.HandleFunc("GET /{width}/{height}", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(*latency)
		width, errW := strconv.Atoi(r.PathValue("width"))
		height, errH := strconv.Atoi(r.PathValue("height"))
		if errW != nil || errH != nil || width <= 0 || height <= 0 || width > maxPhotoSide || height > maxPhotoSide {
			http.Error(w, "bad size", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		if err := jpeg.Encode(w, photo(width, height), &jpeg.Options{Quality: 80}); err != nil {
			logger.Warn("encode photo", "error", err)
		}
	})

	logger.Info("mock upstreams listening", "addr", *addr, "stations", n)
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// photo draws a random diagonal gradient so successive photos differ.
func photo(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	from := color.RGBA{R: uint8(rand.IntN(128)), G: uint8(rand.IntN(128)), B: uint8(64 + rand.IntN(128)), A: 0xFF}
	to := color.RGBA{R: uint8(rand.IntN(96)), G: uint8(64 + rand.IntN(128)), B: uint8(rand.IntN(96)), A: 0xFF}
	for y := range h {
		for x := range w {
			t := float64(x+y) / float64(w+h)
			img.Set(x, y, color.RGBA{
				R: lerp(from.R, to.R, t),
				G: lerp(from.G, to.G, t),
				B: lerp(from.B, to.B, t),
				A: 0xFF,
			})
		}
	}
	return img
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t)
}
