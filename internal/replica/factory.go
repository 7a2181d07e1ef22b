package replica

// Factory is a named-constructor registry so cmd/server's --factory
// flag can select an algorithm variant without the core needing to
// know the concrete set of variants at compile time. Only
// "quorum-register" ships in this repo, but the seam is real: it is
// the extension point for leader-election/log-replication variants
// built on the same Base.
var factories = map[string]func(*Base) any{
	"quorum-register": func(b *Base) any { return NewQuorumRegister(b) },
}

// New constructs the algorithm variant named by kind, wiring its
// handlers onto base. It returns an error for an unregistered name
// rather than panicking, since the name ultimately comes from a CLI
// flag.
func New(kind string, base *Base) (any, error) {
	ctor, ok := factories[kind]
	if !ok {
		return nil, unknownFactoryError(kind)
	}
	return ctor(base), nil
}

type unknownFactoryError string

func (e unknownFactoryError) Error() string {
	return "replica: unknown factory " + string(e)
}
