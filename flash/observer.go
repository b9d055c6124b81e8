package flash

// Observer receives flash activity. internal/metrics provides a Prometheus
// implementation.
type Observer interface {
	OnProgram(bytes int)
	OnErase(pages int)
	OnError(op string)
}

type nopObserver struct{}

func (nopObserver) OnProgram(int)  {}
func (nopObserver) OnErase(int)    {}
func (nopObserver) OnError(string) {}
