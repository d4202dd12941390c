package push

// Formatter renders readings with the templates of a Store.
type Formatter struct {
	Options
	store *Store
}

func NewFormatter(opts Options, store *Store) *Formatter {
	return &Formatter{Options: opts, store: store}
}

func (f *Formatter) Store() *Store {
	return f.store
}

func (f *Formatter) Render(t Template, r Reading) string {
	return Render(f.store.Get(t), Fields(r, f.Options))
}
