package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"therapycore/internal/database"
	"therapycore/internal/models"
	"therapycore/internal/service"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// WindowsFile lists weekly windows per provider account.
type WindowsFile struct {
	Providers []struct {
		ApplicantID string `yaml:"applicant_id"`
		Windows     []struct {
			Day     string `yaml:"day"`
			Start   string `yaml:"start"`
			End     string `yaml:"end"`
			Enabled *bool  `yaml:"enabled"`
		} `yaml:"windows"`
	} `yaml:"providers"`
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		windowsPath = flag.String("windows", "configs/windows.yaml", "path to windows.yaml")
		dbPath      = flag.String("db", "./data/therapycore.db", "path to sqlite db")
	)
	flag.Parse()

	data, err := os.ReadFile(*windowsPath)
	if err != nil {
		return fmt.Errorf("read windows: %w", err)
	}
	var file WindowsFile
	if err = yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse windows: %w", err)
	}
	if len(file.Providers) == 0 {
		return fmt.Errorf("no providers in yaml")
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	availability := service.NewAvailabilityService(db, &logger)

	saved := 0
	for _, p := range file.Providers {
		provider, err := db.GetProviderByApplicant(ctx, p.ApplicantID)
		if err != nil {
			return fmt.Errorf("provider %s: %w", p.ApplicantID, err)
		}
		for _, w := range p.Windows {
			day, ok := weekdays[strings.ToLower(strings.TrimSpace(w.Day))]
			if !ok {
				return fmt.Errorf("provider %s: unknown day %q", p.ApplicantID, w.Day)
			}
			start, err := models.ParseClock(w.Start)
			if err != nil {
				return fmt.Errorf("provider %s: %w", p.ApplicantID, err)
			}
			end, err := models.ParseClock(w.End)
			if err != nil {
				return fmt.Errorf("provider %s: %w", p.ApplicantID, err)
			}
			enabled := w.Enabled == nil || *w.Enabled
			if _, err = availability.SetWindow(ctx, provider.ID, int(day), start, end, enabled); err != nil {
				return fmt.Errorf("provider %s %s %s-%s: %w", p.ApplicantID, w.Day, w.Start, w.End, err)
			}
			saved++
		}
	}

	fmt.Printf("done: providers=%d windows=%d\n", len(file.Providers), saved)
	return nil
}
