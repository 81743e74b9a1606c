package actuator

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"codeberg.org/mutker/chargectl/internal/errors"
)

const (
	behaviourFile = "charge_behaviour"

	behaviourAuto    = "auto"
	behaviourInhibit = "inhibit-charge"
)

// sysfsControl reads and writes a battery's charge_behaviour attribute.
// The kernel lists every supported value and marks the active one with
// brackets, e.g. "[auto] inhibit-charge force-discharge".
type sysfsControl struct {
	path string
	mu   sync.Mutex
}

func newSysfsControl(batteryDir string) *sysfsControl {
	return &sysfsControl{path: filepath.Join(batteryDir, behaviourFile)}
}

func (s *sysfsControl) behaviours() (available []string, current string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, "", classify(err, s.path)
	}

	for _, field := range strings.Fields(string(data)) {
		if strings.HasPrefix(field, "[") && strings.HasSuffix(field, "]") {
			field = strings.Trim(field, "[]")
			current = field
		}
		available = append(available, field)
	}

	if current == "" && len(available) == 1 {
		current = available[0]
	}

	return available, current, nil
}

func (s *sysfsControl) supportsInhibit() (bool, error) {
	available, _, err := s.behaviours()
	if err != nil {
		return false, err
	}

	return contains(available, behaviourAuto) && contains(available, behaviourInhibit), nil
}

func (s *sysfsControl) chargingAllowed() (bool, error) {
	_, current, err := s.behaviours()
	if err != nil {
		return false, err
	}

	return current == behaviourAuto, nil
}

func (s *sysfsControl) write(value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// never create the attribute, it must be provided by the driver
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return classify(err, s.path)
	}
	defer f.Close()

	if _, err := f.WriteString(value); err != nil {
		return classify(err, s.path)
	}

	return nil
}

// classify maps a missing attribute to ErrActuatorUnreachable and any other
// I/O failure to ErrActuatorCall.
func classify(err error, path string) error {
	errFactory := errors.New()

	if os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrActuatorUnreachable, err).WithData(path)
	}

	return errFactory.Wrap(errors.ErrActuatorCall, err)
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}

	return false
}
