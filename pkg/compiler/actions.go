// contentrex/pkg/compiler/actions.go

package compiler

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Selector entries are [type u8][length u32 LE][wide u8][characters]. Other
// entries are the type byte alone.
const selectorHeaderSize = 1 + 4 + 1

// unresolvedLocation marks a rule whose selector group is not written yet.
const unresolvedLocation = ^uint32(0)

var utf16LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// appendSelector writes a css-display-none entry. The selector is stored as
// Latin-1 when every character fits in a byte and as UTF-16LE otherwise; the
// length field counts characters (code units), not bytes.
func appendSelector(actions []byte, selector string) []byte {
	actions = append(actions, byte(ActionCSSDisplayNoneSelector))

	if isLatin1(selector) {
		latin1, err := charmap.ISO8859_1.NewEncoder().String(selector)
		if err == nil {
			actions = binary.LittleEndian.AppendUint32(actions, uint32(len(latin1)))
			actions = append(actions, 0)
			return append(actions, latin1...)
		}
	}

	wide, err := utf16LE.NewEncoder().String(selector)
	if err != nil {
		panic(fmt.Sprintf("compiler: cannot encode selector %q: %v", selector, err))
	}
	actions = binary.LittleEndian.AppendUint32(actions, uint32(len(wide)/2))
	actions = append(actions, 1)
	return append(actions, wide...)
}

func isLatin1(s string) bool {
	for _, r := range s {
		if r > 0xFF {
			return false
		}
	}
	return true
}

type pendingSelectors struct {
	selectors []string
	rules     []int
}

// actionSerializer builds the action table. Identical actions between two
// ignore-previous-rules actions share one entry; selectors of rules with the
// same trigger are joined into one entry.
type actionSerializer struct {
	actions   []byte
	locations []uint32

	blockLoad           map[ResourceFlags]uint32
	blockCookies        map[ResourceFlags]uint32
	ignorePreviousRules map[ResourceFlags]uint32
	makeHTTPS           map[ResourceFlags]uint32

	// Pending selector groups by trigger key, in first-seen order.
	pending      map[string]*pendingSelectors
	pendingOrder []string
}

// SerializeActions writes the action table for rules and returns it together
// with the table offset of each rule's action, indexed like rules.
func SerializeActions(rules []Rule) ([]byte, []uint32) {
	s := &actionSerializer{
		locations:           make([]uint32, 0, len(rules)),
		blockLoad:           map[ResourceFlags]uint32{},
		blockCookies:        map[ResourceFlags]uint32{},
		ignorePreviousRules: map[ResourceFlags]uint32{},
		makeHTTPS:           map[ResourceFlags]uint32{},
		pending:             map[string]*pendingSelectors{},
	}

	for i := range rules {
		s.add(i, &rules[i])
	}
	s.resolvePending()
	return s.actions, s.locations
}

func (s *actionSerializer) add(index int, rule *Rule) {
	actionType := rule.Action.Type

	if actionType == ActionIgnorePreviousRules {
		s.resolvePending()
		clear(s.blockLoad)
		clear(s.blockCookies)
		clear(s.makeHTTPS)
	} else {
		clear(s.ignorePreviousRules)
	}

	// Rules with domain conditions are never merged.
	if len(rule.Trigger.Conditions) > 0 {
		s.locations = append(s.locations, uint32(len(s.actions)))
		if actionType == ActionCSSDisplayNoneSelector {
			s.actions = appendSelector(s.actions, rule.Action.StringArgument)
		} else {
			s.actions = append(s.actions, byte(actionType))
		}
		return
	}

	flags := rule.Trigger.Flags
	switch actionType {
	case ActionCSSDisplayNoneSelector:
		key := rule.Trigger.Key()
		group, ok := s.pending[key]
		if !ok {
			group = &pendingSelectors{}
			s.pending[key] = group
			s.pendingOrder = append(s.pendingOrder, key)
		}
		group.selectors = append(group.selectors, rule.Action.StringArgument)
		group.rules = append(group.rules, index)
		s.locations = append(s.locations, unresolvedLocation)
	case ActionBlockLoad:
		s.locations = append(s.locations, s.findOrAppend(s.blockLoad, flags, actionType))
	case ActionBlockCookies:
		s.locations = append(s.locations, s.findOrAppend(s.blockCookies, flags, actionType))
	case ActionIgnorePreviousRules:
		s.locations = append(s.locations, s.findOrAppend(s.ignorePreviousRules, flags, actionType))
	case ActionMakeHTTPS:
		s.locations = append(s.locations, s.findOrAppend(s.makeHTTPS, flags, actionType))
	default:
		panic(fmt.Sprintf("compiler: cannot serialize action of type %d", actionType))
	}
}

func (s *actionSerializer) findOrAppend(seen map[ResourceFlags]uint32, flags ResourceFlags, actionType ActionType) uint32 {
	if location, ok := seen[flags]; ok {
		return location
	}
	location := uint32(len(s.actions))
	s.actions = append(s.actions, byte(actionType))
	seen[flags] = location
	return location
}

// resolvePending writes every pending selector group and points its rules at
// the new entry.
func (s *actionSerializer) resolvePending() {
	for _, key := range s.pendingOrder {
		group := s.pending[key]
		location := uint32(len(s.actions))
		s.actions = appendSelector(s.actions, strings.Join(group.selectors, ","))
		for _, rule := range group.rules {
			s.locations[rule] = location
		}
	}
	clear(s.pending)
	s.pendingOrder = s.pendingOrder[:0]
}

// DeserializeAction reads the action table entry at location and returns it
// with the entry's size.
func DeserializeAction(actions []byte, location uint32) (Action, int, error) {
	if int(location) >= len(actions) {
		return Action{}, 0, fmt.Errorf("action location %d is outside the %d-byte table", location, len(actions))
	}
	actionType := ActionType(actions[location])
	switch actionType {
	case ActionBlockLoad, ActionBlockCookies, ActionIgnorePreviousRules, ActionMakeHTTPS:
		return Action{Type: actionType}, 1, nil
	case ActionCSSDisplayNoneSelector:
	default:
		return Action{}, 0, fmt.Errorf("invalid action type %d at location %d", actionType, location)
	}

	entry := actions[location:]
	if len(entry) < selectorHeaderSize {
		return Action{}, 0, fmt.Errorf("truncated selector header at location %d", location)
	}
	length := int(binary.LittleEndian.Uint32(entry[1:]))
	wide := entry[5] != 0
	size := length
	if wide {
		size *= 2
	}
	if len(entry) < selectorHeaderSize+size {
		return Action{}, 0, fmt.Errorf("truncated selector at location %d", location)
	}

	payload := entry[selectorHeaderSize : selectorHeaderSize+size]
	var selector string
	var err error
	if wide {
		selector, err = utf16LE.NewDecoder().String(string(payload))
	} else {
		selector, err = charmap.ISO8859_1.NewDecoder().String(string(payload))
	}
	if err != nil {
		return Action{}, 0, fmt.Errorf("decoding selector at location %d: %w", location, err)
	}
	return Action{Type: actionType, StringArgument: selector}, selectorHeaderSize + size, nil
}

// DeserializeActions reads a whole action table and returns each entry keyed
// by its location.
func DeserializeActions(actions []byte) (map[uint32]Action, error) {
	out := make(map[uint32]Action)
	for location := 0; location < len(actions); {
		action, size, err := DeserializeAction(actions, uint32(location))
		if err != nil {
			return nil, err
		}
		out[uint32(location)] = action
		location += size
	}
	return out, nil
}
