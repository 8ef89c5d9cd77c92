package engine

type ApplicationConfig struct {
	// The application name, used in logs.
	Name string
	// TargetFPS is the frame rate the loop is limited to. Zero runs unthrottled.
	TargetFPS uint32
	// MaxFrames stops the loop after that many presented frames. Zero runs
	// until the context is done.
	MaxFrames uint64
}
