package models

// transitionTable maps a current state and an action to the resulting state.
// Anything that is not listed is rejected.
type transitionTable map[string]map[string]string

func (t transitionTable) next(entity, from, action string) (string, error) {
	if actions, ok := t[from]; ok {
		if to, ok := actions[action]; ok {
			return to, nil
		}
	}
	return "", &IllegalStateTransition{Entity: entity, Action: action, From: from}
}

// Allowed reports whether action is legal from state.
func (t transitionTable) Allowed(from, action string) bool {
	_, err := t.next("", from, action)
	return err == nil
}
