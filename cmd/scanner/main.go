package main

import (
	"bufio"
	"errors"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gradscan/scan-relay/internal/producer"
	"github.com/gradscan/scan-relay/internal/utils"
	"github.com/gradscan/scan-relay/pkg/deviceinfo"
	"github.com/gradscan/scan-relay/pkg/file"
	"github.com/gradscan/scan-relay/pkg/students"
	"github.com/gradscan/scan-relay/pkg/ws"
)

// seedStudents stands in for the ceremony roster normally loaded by the
// surrounding application. QR decoding happens upstream; each stdin line is
// an already-decoded student id.
func seedStudents(store *students.MemoryStore) {
	_ = store.Create(students.Record{ID: "42", Name: "Jane Doe", Details: map[string]string{"degree": "BSc Computer Science"}})
	_ = store.Create(students.Record{ID: "43", Name: "John Roe", Details: map[string]string{"degree": "BA History"}})
	_ = store.Create(students.Record{ID: "44", Name: "Ada Lin", Details: map[string]string{"degree": "MSc Mathematics"}})
}

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	fileClient := file.NewFileService()

	config, err := utils.LoadConfig("configs/config.yaml", fileClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	deviceFile := config.Producer.DeviceFile
	if deviceFile == "" {
		deviceFile = "configs/device.json"
	}
	device := deviceinfo.NewDeviceInfo(deviceFile, fileClient)
	if err := device.Load(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load device identity")
	}

	store := students.NewMemoryStore()
	seedStudents(store)

	client := producer.NewClient(
		config.Relay.URL,
		config.Producer.ConfirmTimeout,
		device,
		store,
		ws.GorillaDialer{},
		log,
	)
	client.OnDisconnect = func(code int) {
		log.Warn().Int("code", code).Msg("Disconnected from relay; restart to reconnect")
	}

	if err := client.Connect(); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to relay")
	}
	defer client.Close()

	log.Info().Msg("Enter student ids to scan, one per line")

	scannerIn := bufio.NewScanner(os.Stdin)
	for scannerIn.Scan() {
		id := strings.TrimSpace(scannerIn.Text())
		if id == "" {
			continue
		}

		record, err := client.Scan(id)
		switch {
		case errors.Is(err, producer.ErrUnknownStudent):
			log.Warn().Str("id", id).Msg("Unknown student id")
		case errors.Is(err, producer.ErrNotConfirmed):
			log.Warn().Str("id", id).Msg("Scan sent but not confirmed")
		case err != nil:
			log.Error().Err(err).Str("id", id).Msg("Scan failed")
		default:
			log.Info().Str("id", record.ID).Str("name", record.Name).Msg("Scan confirmed")
		}
	}
}
