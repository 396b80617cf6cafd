package config

// Default returns a Config populated with the production defaults.
func Default() Config {
	return Config{
		Alignment: Alignment{
			DownsampleScale:            0.5,
			NFeatures:                  5000,
			ExcludeMargin:              0.03,
			RatioThreshold:             0.75,
			LowConfidenceWarnThreshold: 0.3,
			Seed:                       1,
		},
		RANSAC: RANSAC{
			ReprojThreshold: 5.0,
			MaxIters:        2000,
			Confidence:      0.995,
			ScaleMin:        0.8,
			ScaleMax:        1.25,
			RotationDegMin:  -10,
			RotationDegMax:  10,
		},
		Render: Render{
			Mode:            ModeMerge,
			TintStrength:    0.7,
			InkThreshold:    200,
			DiffThreshold:   40,
			MorphKernelSize: 3,
			ShiftTolerance:  3,
		},
		Grid: Grid{
			Enabled:               true,
			DetectMaxDimension:    2048,
			CropPadding:           50,
			RadiusSlack:           100,
			LineSearchLength:      300,
			LineAngleToleranceDeg: 20,
		},
		Vision: Vision{
			BaseURL:        "https://openrouter.ai/api/v1/chat/completions",
			Model:          "google/gemini-2.5-flash",
			TimeoutSeconds: 60,
			RetryAttempts:  3,
		},
		Logging: Logging{
			Level:  "info",
			Format: "auto",
		},
	}
}
