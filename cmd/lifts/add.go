// ABOUTME: CLI command for logging exercises.
// ABOUTME: Appends sets to the session for a date, creating it when needed.
package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harperreed/lifts/internal/models"
	"github.com/harperreed/lifts/internal/storage"
)

var (
	addDate    string
	addSets    int
	addReps    []int
	addWeights []string
	addTitle   string
	addNotes   string
)

var addCmd = &cobra.Command{
	Use:     "add <exercise> [SETSxREPS[@WEIGHT]]",
	Aliases: []string{"a"},
	Short:   "Log an exercise",
	Long: `Log an exercise into the session for a day. Exercises already in the
session (matched case-insensitively) get the new sets appended.

Sets can be given as a compact spec or with flags. When reps, weights and
--sets disagree in length, the longest wins and missing values are padded
with 0 reps and weight "0".

Examples:
  lifts add "Bench Press" 3x5@80kg
  lifts add Squat --reps 5,5,3 --weights 100kg,100kg,110kg
  lifts add Plank --sets 3
  lifts add Dip 3x10@bodyweight --date 2024-12-18 --title "Push day"`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		parsed := models.ParsedExercise{
			Name:    args[0],
			Sets:    addSets,
			Reps:    addReps,
			Weights: addWeights,
		}
		if len(args) == 2 {
			spec, err := parseSetSpec(args[1])
			if err != nil {
				return err
			}
			spec.Name = parsed.Name
			parsed = spec
		}

		date := addDate
		if date == "" {
			date = time.Now().Format(models.DateLayout)
		}

		s, err := storage.LogExercises(cmd.Context(), repo, date, []models.ParsedExercise{parsed}, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to log exercise: %w", err)
		}

		if addTitle != "" || addNotes != "" {
			if addTitle != "" {
				s.WithTitle(addTitle)
			}
			if addNotes != "" {
				s.WithNotes(addNotes)
			}
			if err := repo.UpsertSession(cmd.Context(), s); err != nil {
				return fmt.Errorf("failed to update session: %w", err)
			}
		}

		added := len(models.ZipSets(parsed.Reps, parsed.Weights, parsed.Sets))
		color.Green("✓ Logged %s", parsed.Name)
		fmt.Printf("  %s %s  %d set(s)\n",
			color.New(color.Faint).Sprint(s.ID[:8]),
			s.PerformedOn,
			added)

		return nil
	},
}

// parseSetSpec reads "SETSxREPS" with an optional "@WEIGHT", e.g. 3x5@80kg.
func parseSetSpec(spec string) (models.ParsedExercise, error) {
	var p models.ParsedExercise

	body, weight, hasWeight := strings.Cut(strings.TrimSpace(spec), "@")
	setsText, repsText, ok := strings.Cut(strings.ToLower(body), "x")
	if !ok {
		return p, fmt.Errorf("invalid set spec %q: want SETSxREPS[@WEIGHT]", spec)
	}

	sets, err := strconv.Atoi(setsText)
	if err != nil || sets <= 0 {
		return p, fmt.Errorf("invalid set count in %q", spec)
	}
	reps, err := strconv.Atoi(repsText)
	if err != nil || reps < 0 {
		return p, fmt.Errorf("invalid rep count in %q", spec)
	}

	p.Sets = sets
	p.Reps = make([]int, sets)
	for i := range p.Reps {
		p.Reps[i] = reps
	}
	if hasWeight {
		if weight = strings.TrimSpace(weight); weight == "" {
			return p, fmt.Errorf("empty weight in %q", spec)
		}
		p.Weights = make([]string, sets)
		for i := range p.Weights {
			p.Weights[i] = weight
		}
	}
	return p, nil
}

func init() {
	addCmd.Flags().StringVar(&addDate, "date", "", "session date (YYYY-MM-DD), defaults to today")
	addCmd.Flags().IntVar(&addSets, "sets", 0, "declared number of sets")
	addCmd.Flags().IntSliceVar(&addReps, "reps", nil, "reps per set, comma separated")
	addCmd.Flags().StringSliceVar(&addWeights, "weights", nil, "weight per set, comma separated (80kg, 135lb, bodyweight)")
	addCmd.Flags().StringVar(&addTitle, "title", "", "session title")
	addCmd.Flags().StringVar(&addNotes, "notes", "", "session notes")
	rootCmd.AddCommand(addCmd)
}
