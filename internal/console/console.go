// Package console drives an optimization session through the operator
// command protocol: set targets, select parameters, confirm, then continue,
// undo, reset or quit. It works against any Target, local or remote.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rodline/procopt/internal/improvement"
	"github.com/rodline/procopt/internal/session"
	"github.com/rodline/procopt/pkg/models"
)

// Target is the session surface the console needs
type Target interface {
	Current() *models.ParameterSet
	Desired() models.Triplet
	SetDesired(ctx context.Context, desired models.Triplet) error
	Optimize(ctx context.Context, names []string, progress improvement.ProgressFunc) (*models.StepReport, error)
	Undo(ctx context.Context) error
	Reset(ctx context.Context) error
}

var _ Target = (*session.Session)(nil)

var propertyLabels = [3]struct{ name, unit string }{
	{"UTS", ""},
	{"Elongation", "%"},
	{"Conductivity", "% IACS"},
}

// ParseSelection parses comma-separated 1-based indices into 0-based positions
func ParseSelection(input string, count int) ([]int, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, &models.InvalidSelectionError{Reason: "no parameters selected"}
	}
	parts := strings.Split(input, ",")
	out := make([]int, 0, len(parts))
	seen := make(map[int]bool, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, &models.InvalidSelectionError{Input: input, Reason: fmt.Sprintf("%q is not a number", strings.TrimSpace(p))}
		}
		if n < 1 || n > count {
			return nil, &models.InvalidSelectionError{Input: input, Reason: fmt.Sprintf("please enter numbers 1-%d separated by commas", count)}
		}
		if seen[n] {
			return nil, &models.InvalidSelectionError{Input: input, Reason: fmt.Sprintf("%d selected more than once", n)}
		}
		seen[n] = true
		out = append(out, n-1)
	}
	return out, nil
}

// Console is one interactive operator loop
type Console struct {
	target Target
	in     *bufio.Scanner
	out    io.Writer
}

// New creates a console reading commands from in and writing to out
func New(target Target, in io.Reader, out io.Writer) *Console {
	return &Console{target: target, in: bufio.NewScanner(in), out: out}
}

// Run prompts for the desired values, defaulting to defaults, then loops
// over optimization steps until the operator quits or input ends.
func (c *Console) Run(ctx context.Context, defaults models.Triplet) error {
	err := c.run(ctx, defaults)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (c *Console) run(ctx context.Context, defaults models.Triplet) error {
	c.printf("\nCurrent Parameter Values (Original Values):\n")
	current := c.target.Current()
	for _, name := range current.Names() {
		v, _ := current.Get(name)
		c.printf("- %s: %.2f\n", name, v)
	}

	if err := c.promptDesired(ctx, defaults); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		names, err := c.promptSelection()
		if err != nil {
			return err
		}
		ok, err := c.confirm(names)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		report, err := c.target.Optimize(ctx, names, func(p improvement.Progress) {
			if math.IsInf(p.BestError, 1) {
				c.printf("Iteration %d | Current Best: n/a\n", p.Evaluation)
				return
			}
			c.printf("Iteration %d | Current Best: %.2f%%\n", p.Evaluation, p.BestError)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.printf("Optimization failed: %v\n", err)
			continue
		}
		c.printReport(report)

		quit, err := c.menu(ctx)
		if err != nil || quit {
			return err
		}
	}
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *Console) readLine(prompt string) (string, error) {
	c.printf("%s", prompt)
	if !c.in.Scan() {
		if err := c.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(c.in.Text()), nil
}

func (c *Console) promptDesired(ctx context.Context, defaults models.Triplet) error {
	c.printf("\nPlease enter the desired values for UTS, Elongation, and Conductivity:\n")
	c.printf("Original UTS: %.2f, Original Elongation: %.2f%%, Original Conductivity: %.2f%% IACS\n",
		defaults[0], defaults[1], defaults[2])

	for {
		var desired models.Triplet
		for i, label := range propertyLabels {
			v, err := c.promptFloat(fmt.Sprintf("Desired %s [%.2f]: ", label.name, defaults[i]), defaults[i])
			if err != nil {
				return err
			}
			desired[i] = v
		}
		err := c.target.SetDesired(ctx, desired)
		if err == nil {
			return nil
		}
		var zero *improvement.ZeroDesiredValueError
		if !errors.As(err, &zero) {
			return err
		}
		c.printf("Invalid desired values: %v\n", err)
	}
}

func (c *Console) promptFloat(prompt string, def float64) (float64, error) {
	for {
		line, err := c.readLine(prompt)
		if err != nil {
			return 0, err
		}
		if line == "" {
			return def, nil
		}
		v, err := strconv.ParseFloat(line, 64)
		if err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v, nil
		}
		c.printf("Please enter a number.\n")
	}
}

func (c *Console) promptSelection() ([]string, error) {
	current := c.target.Current()
	names := current.Names()
	c.printf("\nSelect parameters to optimize (comma-separated numbers):\n")
	for i, name := range names {
		v, _ := current.Get(name)
		c.printf("%d. %s (Current: %.2f)\n", i+1, name, v)
	}

	for {
		line, err := c.readLine("\nYour choices: ")
		if err != nil {
			return nil, err
		}
		idx, err := ParseSelection(line, len(names))
		if err != nil {
			c.printf("Invalid input! %v\n", err)
			continue
		}
		selected := make([]string, len(idx))
		for i, j := range idx {
			selected[i] = names[j]
		}
		return selected, nil
	}
}

func (c *Console) confirm(names []string) (bool, error) {
	line, err := c.readLine(fmt.Sprintf("Optimize %s? [Y/n]: ", strings.Join(names, ", ")))
	if err != nil {
		return false, err
	}
	switch strings.ToLower(line) {
	case "", "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (c *Console) printReport(r *models.StepReport) {
	desired := c.target.Desired()
	c.printf("\n%s\n", strings.Repeat("=", 50))
	c.printf("Original Properties:\n")
	for i, l := range propertyLabels {
		c.printf("- %s: %.2f%s (Desired: %g)\n", l.name, r.BeforePrediction[i], l.unit, desired[i])
	}
	c.printf("Original Error: %.2f%%\n", r.BeforeError)

	c.printf("\nOptimized Results:\n")
	for i, l := range propertyLabels {
		c.printf("- %s: %.2f%s\n", l.name, r.AfterPrediction[i], l.unit)
	}
	c.printf("Optimized Error: %.2f%%\n", r.AfterError)

	c.printf("\nParameter Changes:\n")
	changed := make(map[string]models.ParameterChange, len(r.Changes))
	for _, ch := range r.Changes {
		changed[ch.Name] = ch
	}
	for _, name := range r.Parameters {
		ch, ok := changed[name]
		if !ok {
			v, _ := r.Result.Get(name)
			c.printf("- %s: %.2f (unchanged)\n", name, v)
			continue
		}
		c.printf("- %s: %.2f -> %.2f (Δ%.1f%%)\n", name, ch.OriginalValue, ch.OptimizedValue, ch.PercentageChange)
	}
}

// menu returns true when the operator quits
func (c *Console) menu(ctx context.Context) (bool, error) {
	for {
		c.printf("\nWhat would you like to do next?\n")
		c.printf("1. Continue optimization\n")
		c.printf("2. Undo last optimization step\n")
		c.printf("3. Reset to original parameters\n")
		c.printf("4. Quit\n")
		choice, err := c.readLine("Enter your choice (1-4): ")
		if err != nil {
			return false, err
		}

		switch choice {
		case "1":
			return false, nil
		case "2":
			err := c.target.Undo(ctx)
			if errors.Is(err, session.ErrNothingToUndo) {
				c.printf("Cannot undo. Already at initial state.\n")
				continue
			}
			if err != nil {
				c.printf("Undo failed: %v\n", err)
				continue
			}
			c.printf("Undo successful. Reverted to previous parameters.\n")
			return false, nil
		case "3":
			if err := c.target.Reset(ctx); err != nil {
				c.printf("Reset failed: %v\n", err)
				continue
			}
			c.printf("Reset successful. All parameters reverted to original.\n")
			return false, nil
		case "4":
			c.printf("\nOptimization complete!\n")
			return true, nil
		default:
			c.printf("Invalid choice. Please enter 1-4.\n")
		}
	}
}
