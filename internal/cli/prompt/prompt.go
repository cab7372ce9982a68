// Package prompt asks the user for confirmation on the terminal.
package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user presses Ctrl+C.
var ErrAborted = errors.New("aborted")

// IsAborted reports whether err came from an interrupted prompt.
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, ErrAborted)
}

// Confirm asks a yes/no question. An empty answer picks defaultYes.
func Confirm(label string, defaultYes bool) (bool, error) {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}

	p := promptui.Prompt{
		Label:     fmt.Sprintf("%s [%s]", label, hint),
		IsConfirm: true,
	}

	result, err := p.Run()
	switch {
	case errors.Is(err, promptui.ErrInterrupt):
		return false, ErrAborted
	case errors.Is(err, promptui.ErrAbort):
		// promptui reports "n" (and an empty answer) as ErrAbort.
		if result == "" {
			return defaultYes, nil
		}
		return false, nil
	case err != nil:
		return false, err
	}

	answer := strings.ToLower(strings.TrimSpace(result))
	return answer == "y" || answer == "yes", nil
}

// ConfirmWithForce returns true without asking when force is set.
func ConfirmWithForce(label string, force bool) (bool, error) {
	if force {
		return true, nil
	}
	return Confirm(label, false)
}
