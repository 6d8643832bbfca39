package element

import (
	"fmt"
	"strings"

	osm "github.com/omniscale/go-osm"
	"github.com/pkg/errors"
)

// Action describes how a change entry relates to the base stream.
type Action uint8

const (
	Create Action = iota + 1
	Modify
	Delete
)

func (a Action) String() string {
	switch a {
	case Create:
		return "create"
	case Modify:
		return "modify"
	case Delete:
		return "delete"
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// ParseAction parses the osmChange block names create, modify and delete.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(s) {
	case "create":
		return Create, nil
	case "modify":
		return Modify, nil
	case "delete":
		return Delete, nil
	}
	return 0, errors.Errorf("unknown action %q", s)
}

// Change pairs an element with the action to apply.
type Change struct {
	Container
	Action Action
}

func (c Change) String() string {
	return c.Action.String() + " " + c.Container.String()
}

var ErrUnsupportedKind = errors.New("unsupported element kind")

// FromDiff converts a parsed osmChange entry. Relations have no kind in this
// model and return ErrUnsupportedKind.
func FromDiff(d osm.Diff) (Change, error) {
	var c Change
	switch {
	case d.Create:
		c.Action = Create
	case d.Modify:
		c.Action = Modify
	case d.Delete:
		c.Action = Delete
	default:
		return c, errors.New("diff without action")
	}
	switch {
	case d.Node != nil:
		c.Container = NewNode(d.Node)
	case d.Way != nil:
		c.Container = NewWay(d.Way)
	case d.Rel != nil:
		return c, errors.Wrapf(ErrUnsupportedKind, "relation %d", d.Rel.ID)
	default:
		return c, errors.New("diff without element")
	}
	return c, nil
}
