// controld runs the vehicle control daemon: the 100Hz control loop, the
// serial bridge to the vehicle gateway, session logging, and an HTTP
// inspection server.
package main

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/drive.control/internal/api"
	"github.com/banshee-data/drive.control/internal/config"
	"github.com/banshee-data/drive.control/internal/loop"
	"github.com/banshee-data/drive.control/internal/monitoring"
	"github.com/banshee-data/drive.control/internal/rt"
	"github.com/banshee-data/drive.control/internal/serialbridge"
	"github.com/banshee-data/drive.control/internal/sessionlog"
	"github.com/banshee-data/drive.control/internal/vehicle"
	"github.com/banshee-data/drive.control/internal/version"
)

var (
	carPath    = flag.String("car", "config/car.example.json", "Path to the car params JSON")
	configPath = flag.String("config", config.DefaultConfigPath, "Path to the controls config JSON")
	serialPort = flag.String("port", "/dev/ttyACM0", "Serial device of the vehicle gateway")
	listen     = flag.String("listen", ":8080", "HTTP listen address")
	devMode    = flag.Bool("dev", false, "Replay fixture telemetry instead of opening a serial port")
	fixtures   = flag.String("fixtures", "fixtures.txt", "Telemetry fixture file for dev mode")
	notes      = flag.String("notes", "", "Free-form notes stored with the session")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()
	monitoring.SetDebug(*debug)

	log.Printf("controld %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := config.LoadControlsConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load controls config: %v", err)
	}
	cp, err := vehicle.LoadCarParams(*carPath)
	if err != nil {
		log.Fatalf("failed to load car params: %v", err)
	}

	l, err := loop.New(cp, cfg)
	if err != nil {
		log.Fatalf("failed to build control loop: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	// Vehicle gateway. Dev mode replays a fixture file through an in-memory
	// port so the daemon can run on a desk.
	var bridge *serialbridge.Bridge[serialbridge.Porter]
	if *devMode {
		mock := serialbridge.NewMockPort()
		bridge = serialbridge.New[serialbridge.Porter](mock, l.Sockets())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := replayFixtures(ctx, mock, *fixtures); err != nil {
				log.Printf("fixture replay stopped: %v", err)
			}
		}()
	} else {
		port, err := serialbridge.OpenPort(*serialPort, nil)
		if err != nil {
			log.Fatalf("failed to open serial port %s: %v", *serialPort, err)
		}
		bridge = serialbridge.New(port, l.Sockets())
	}
	defer bridge.Close()
	l.AddSink(bridge)

	// Session log.
	db, err := sessionlog.Open(cfg.GetSessionDBPath())
	if err != nil {
		log.Fatalf("failed to open session log: %v", err)
	}
	defer db.Close()

	sessionID, err := db.StartSession(cp.CarFingerprint, *notes)
	if err != nil {
		log.Fatalf("failed to start session: %v", err)
	}
	log.Printf("session %s started for %q", sessionID, cp.CarFingerprint)

	recorder := sessionlog.NewRecorder(db, sessionID, cfg.GetRecordDecimate(), cfg.GetRecordQueueSize())
	l.AddSink(recorder)

	cache := &api.StateCache{}
	l.AddSink(cache)

	// Serial monitor routine.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bridge.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("serial bridge stopped: %v", err)
			stop()
		}
		log.Print("bridge routine terminated")
	}()

	// Control loop routine. Against a real gateway the loop is paced by the
	// vehicle state stream; in dev mode the ratekeeper paces it so the replay
	// cadence does not have to be exact.
	runLoop := l.RunPaced
	if *devMode {
		runLoop = l.Run
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runLoop(ctx); err != nil && err != context.Canceled {
			log.Printf("control loop stopped: %v", err)
			stop()
		}
		log.Print("control loop terminated")
	}()

	// HTTP server routine.
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		apiMux := api.NewServer(cache, db).ServeMux()
		mux.Handle("/api/", http.StripPrefix("/api", apiMux))

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()

	if err := recorder.Close(); err != nil {
		log.Printf("recorder close error: %v", err)
	}
	if recorder.Dropped() > 0 {
		log.Printf("recorder dropped %d cycles", recorder.Dropped())
	}
	if err := db.EndSession(sessionID); err != nil {
		log.Printf("failed to end session: %v", err)
	}
	log.Printf("session %s ended", sessionID)
}

// replayFixtures feeds one telemetry line per control cycle period, looping
// over the file until ctx is cancelled.
func replayFixtures(ctx context.Context, port *serialbridge.MockPort, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(time.Duration(rt.DTCtrl * float64(time.Second)))
	defer ticker.Stop()

	// FeedLine blocks until the bridge consumes the line, so unblock it by
	// closing the port once the context ends.
	go func() {
		<-ctx.Done()
		port.Close()
	}()

	for {
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			if err := port.FeedLine(scanner.Text()); err != nil {
				return err
			}
		}
		if err := scanner.Err(); err != nil {
			return err
		}
	}
}
