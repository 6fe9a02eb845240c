package main

import (
	"context"
	"time"

	"github.com/trezcool/hatua/core"
	"github.com/trezcool/hatua/core/phase"
)

type addPhaseOpts struct {
	number      int
	title       string
	start       string // YYYY-MM-DD
	end         string // YYYY-MM-DD
	videoURL    string
	minSeconds  int
	assignments int
	mandatory   bool
	bypass      bool
}

// addPhase creates a phase.Phase; fails if the phase number is taken.
func (cli *commandLine) addPhase(opts addPhaseOpts) error {
	ctx := context.Background()

	start, err := time.Parse("2006-01-02", opts.start)
	if err != nil {
		return err
	}
	end, err := time.Parse("2006-01-02", opts.end)
	if err != nil {
		return err
	}

	if err = cli.phaseRepo.CheckPhaseNumberUniqueness(ctx, opts.number, nil); err != nil {
		return err
	}

	now := cli.clock.Now().UTC()
	_, err = cli.phaseRepo.CreatePhase(ctx, phase.Phase{
		PhaseNumber:           opts.number,
		Title:                 core.CleanString(opts.title),
		YoutubeURL:            opts.videoURL,
		AllowedSubmissionType: phase.AllowBoth,
		StartDate:             start.UTC(),
		EndDate:               end.UTC(),
		IsActive:              true,
		IsMandatory:           opts.mandatory,
		MinSecondsRequired:    opts.minSeconds,
		TotalAssignments:      opts.assignments,
		BypassTimeRequirement: opts.bypass,
		CreatedAt:             now,
		UpdatedAt:             now,
	})
	return err
}
