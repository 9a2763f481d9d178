package h3mapper

import (
	"fmt"

	h3 "github.com/uber/h3-go/v4"
)

func (m *Mapper) ToParent(cell string, parentRes int) (string, error) {
	if err := validateRes(parentRes); err != nil {
		return "", err
	}
	c, err := parseCell(cell)
	if err != nil {
		return "", err
	}
	curRes := c.Resolution()
	if parentRes > curRes {
		return "", fmt.Errorf("parentRes %d must be <= cell resolution %d", parentRes, curRes)
	}
	if parentRes == curRes {
		return cell, nil
	}

	p, err := c.Parent(parentRes)
	if err != nil {
		return "", fmt.Errorf("h3 parent: %w", err)
	}
	return p.String(), nil
}

// Coarsen replaces every cell by its parent at res, de-duplicated and sorted.
func (m *Mapper) Coarsen(cells []string, res int) ([]string, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	parents := make([]h3.Cell, 0, len(cells))
	for _, s := range cells {
		c, err := parseCell(s)
		if err != nil {
			return nil, err
		}
		if c.Resolution() <= res {
			parents = append(parents, c)
			continue
		}
		p, err := c.Parent(res)
		if err != nil {
			return nil, fmt.Errorf("h3 parent: %w", err)
		}
		parents = append(parents, p)
	}
	return uniqueSorted(parents), nil
}

func parseCell(s string) (h3.Cell, error) {
	var c h3.Cell
	if err := c.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("parse cell: %w", err)
	}
	if !c.IsValid() {
		return 0, fmt.Errorf("invalid h3 cell %q", s)
	}
	return c, nil
}
