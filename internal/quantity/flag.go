package quantity

// Flag adapts a Quantity to the pflag.Value interface so cobra flags can take
// input such as --rate 44.1k.
type Flag struct {
	Q *Quantity
}

func (f Flag) String() string {
	if f.Q == nil {
		return ""
	}
	return f.Q.String()
}

func (f Flag) Set(s string) error {
	v, err := Parse(s, f.Q.Unit())
	if err != nil {
		return err
	}
	f.Q.Set(v)
	return nil
}

func (f Flag) Type() string { return "quantity" }
