package hooks

import "fmt"

func (h *Handler) handleEnd(input *HookInput) error {
	st, err := h.Open(input.CWD)
	if err != nil {
		return err
	}
	active, err := st.LoadActiveSession()
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if active == nil || (input.SessionID != "" && active.ID != input.SessionID) {
		return nil
	}
	_, err = st.ClearSession()
	return err
}
