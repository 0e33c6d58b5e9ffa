package table

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/kilianp07/dispense/core/model"
)

// ErrInvalidCell is returned for cells that cannot be read as a mapping of
// solution to a finite, non-negative volume.
var ErrInvalidCell = errors.New("invalid cell")

// ParseCell reads one table cell. Accepted forms are a JSON object
// ({"D1": 5}), Python dict text ({'D1': 5}) and key=value pairs separated by
// semicolons (D1=5;W=10). A blank cell is an empty mapping.
func ParseCell(raw string) (model.Cell, error) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "{}" {
		return model.Cell{}, nil
	}
	var (
		cell model.Cell
		err  error
	)
	if strings.HasPrefix(s, "{") {
		cell, err = parseObject(s)
	} else {
		cell, err = parsePairs(s)
	}
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidCell, raw, err)
	}
	return cell, nil
}

func parseObject(s string) (model.Cell, error) {
	// Python dict text differs from JSON by its quotes only for the values
	// a volume table can hold.
	if strings.Contains(s, "'") && !strings.Contains(s, `"`) {
		s = strings.ReplaceAll(s, "'", `"`)
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if tok, err := dec.Token(); err != nil {
		return nil, err
	} else if tok != json.Delim('{') {
		return nil, fmt.Errorf("expected an object, got %v", tok)
	}
	// Keys are read one by one so a repeated solution reaches put.
	cell := make(model.Cell)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		k, _ := tok.(string)
		var n json.Number
		if err := dec.Decode(&n); err != nil {
			return nil, fmt.Errorf("solution %s: %v", k, err)
		}
		v, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("solution %s: %v", k, err)
		}
		if err := put(cell, k, v); err != nil {
			return nil, err
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after object")
	}
	return cell, nil
}

func parsePairs(s string) (model.Cell, error) {
	cell := make(model.Cell)
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("expected solution=volume, got %q", part)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("solution %s: %v", strings.TrimSpace(k), err)
		}
		if err := put(cell, k, f); err != nil {
			return nil, err
		}
	}
	return cell, nil
}

func put(cell model.Cell, key string, v float64) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("empty solution name")
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("solution %s: volume is not finite", key)
	}
	if v < 0 {
		return fmt.Errorf("solution %s: negative volume %v", key, v)
	}
	if _, dup := cell[model.SolutionID(key)]; dup {
		return fmt.Errorf("solution %s listed twice", key)
	}
	cell[model.SolutionID(key)] = v
	return nil
}
