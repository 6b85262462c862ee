package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/gradscan/scan-relay/internal/consumer"
	"github.com/gradscan/scan-relay/internal/protocol"
	"github.com/gradscan/scan-relay/internal/utils"
	"github.com/gradscan/scan-relay/pkg/file"
	"github.com/gradscan/scan-relay/pkg/students"
	"github.com/gradscan/scan-relay/pkg/ws"
)

// seedStudents stands in for the ceremony roster normally loaded by the
// surrounding application. It matches the roster the demo scanner carries so
// the two binaries agree on which ids are real.
func seedStudents(store *students.MemoryStore) {
	_ = store.Create(students.Record{ID: "42", Name: "Jane Doe", Details: map[string]string{"degree": "BSc Computer Science"}})
	_ = store.Create(students.Record{ID: "43", Name: "John Roe", Details: map[string]string{"degree": "BA History"}})
	_ = store.Create(students.Record{ID: "44", Name: "Ada Lin", Details: map[string]string{"degree": "MSc Mathematics"}})
}

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	config, err := utils.LoadConfig("configs/config.yaml", file.NewFileService())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	policy := consumer.Policy{
		MaxRetries:     config.Consumer.MaxRetries,
		BaseDelay:      config.Consumer.BaseDelay,
		FastBackoffCap: config.Consumer.FastBackoffCap,
		SteadyDelay:    config.Consumer.SteadyDelay,
	}

	callbacks := consumer.Callbacks{
		OnScan: func(scan protocol.StudentScanned) {
			log.Info().
				Str("student_id", scan.Student.ID).
				Str("student_name", scan.Student.Name).
				Str("scanner_id", scan.ScannerID).
				Time("scanned_at", scan.ScanTimestamp).
				Msg("Student scanned")
		},
		OnOnline: func() {
			log.Info().Msg("Dashboard online")
		},
		OnOffline: func() {
			log.Warn().Msg("Server assumed offline; send SIGHUP to retry")
		},
		OnScannerConnected: func(scannerID string, device map[string]string) {
			log.Info().Str("scanner_id", scannerID).Interface("device", device).Msg("Scanner connected")
		},
		OnScannerDisconnected: func(scannerID string) {
			log.Info().Str("scanner_id", scannerID).Msg("Scanner disconnected")
		},
		OnNotice: func(message string) {
			log.Warn().Str("notice", message).Msg("Relay notice")
		},
	}

	store := students.NewMemoryStore()
	seedStudents(store)

	manager := consumer.NewManager(
		config.Relay.URL,
		config.Consumer.ClientID,
		policy,
		store,
		ws.GorillaDialer{},
		consumer.SystemTimers{},
		callbacks,
		log,
	)
	manager.Connect()

	// SIGHUP is the manual reconnect trigger; SIGINT/SIGTERM tear down.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			log.Info().Msg("Manual reconnect requested")
			manager.Reconnect()
			continue
		}
		break
	}

	log.Info().Msg("Shutting down gracefully...")
	manager.Close()
}
