package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/analytics-go"
)

func getContext() *analytics.Context {
	version := "local"
	build, _ := debug.ReadBuildInfo()

	if strings.TrimSpace(build.Main.Version) != "" {
		version = strings.TrimSpace(build.Main.Version)
	}

	timezone, _ := time.Now().Zone()
	locale := os.Getenv("LANG")

	return &analytics.Context{
		App: analytics.AppInfo{
			Name:    "harvester",
			Version: version,
		},
		Location: analytics.LocationInfo{},
		OS: analytics.OSInfo{
			Name: fmt.Sprintf("%s %s", runtime.GOOS, runtime.GOARCH),
		},
		Locale:   locale,
		Timezone: timezone,
	}
}

func getUserId() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	harvesterDir := filepath.Join(home, ".harvester")
	if _, err = os.Stat(harvesterDir); os.IsNotExist(err) {
		if err := os.Mkdir(harvesterDir, 0o755); err != nil {
			return "", err
		}
	}

	userId := uuid.New().String()

	idFile := filepath.Join(harvesterDir, "id")
	if _, err = os.Stat(idFile); os.IsNotExist(err) {
		if err := os.WriteFile(idFile, []byte(userId), 0o755); err != nil {
			return "", err
		}
	} else {
		data, err := os.ReadFile(idFile)
		if err != nil {
			return "", err
		}
		userId = string(data)
	}

	return userId, nil
}

func TrackEvent(config Telemetry, event string, properties map[string]interface{}) {
	if config.Disabled || config.WriteKey == "" {
		return
	}

	userId, err := getUserId()
	if err != nil {
		return
	}

	client := analytics.New(config.WriteKey)
	defer client.Close()

	props := analytics.NewProperties()
	for k, v := range properties {
		props.Set(k, v)
	}

	_ = client.Enqueue(analytics.Track{
		UserId:     userId,
		Event:      event,
		Properties: props,
		Context:    getContext(),
	})
}

func TrackHarvestStarted(config Telemetry, chain string) {
	TrackEvent(config, "harvest_started", map[string]interface{}{"chain": chain})
}

func TrackHarvestCompleted(config Telemetry, chain string, chunks int, seconds int64) {
	TrackEvent(config, "harvest_completed", map[string]interface{}{
		"chain":   chain,
		"chunks":  chunks,
		"seconds": seconds,
	})
}
