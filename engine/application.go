package engine

type ApplicationConfig struct {
	// Window starting position x axis, if applicable.
	StartPosX uint32
	// Window starting position y axis, if applicable.
	StartPosY uint32
	// ConfigPath is the TOML file loaded at start and watched for changes.
	// Empty uses config.DefaultPath.
	ConfigPath string
	// ShaderDir holds the compiled ray tracing shaders of Pipeline.
	ShaderDir string
	Pipeline  string
	// Debug enables the Vulkan validation layers.
	Debug bool
	// Backend overrides the configured backend when set.
	Backend string
	// MaxFrames overrides the configured frame limit when non-zero.
	MaxFrames uint64
}
