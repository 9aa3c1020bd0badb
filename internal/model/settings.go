package model

// Settings 参与者的本地偏好设置
type Settings struct {
	FontSize  int    `json:"fontSize" mapstructure:"font_size"`
	Language  string `json:"language" mapstructure:"language"`
	Wallpaper string `json:"wallpaper" mapstructure:"wallpaper"`
}

// SettingsPatch 部分更新，nil 字段保持不变
type SettingsPatch struct {
	FontSize  *int    `json:"fontSize,omitempty"`
	Language  *string `json:"language,omitempty"`
	Wallpaper *string `json:"wallpaper,omitempty"`
}

// Apply 应用补丁，返回是否有变化
func (s *Settings) Apply(p SettingsPatch) bool {
	changed := false
	if p.FontSize != nil && *p.FontSize != s.FontSize {
		s.FontSize = *p.FontSize
		changed = true
	}
	if p.Language != nil && *p.Language != s.Language {
		s.Language = *p.Language
		changed = true
	}
	if p.Wallpaper != nil && *p.Wallpaper != s.Wallpaper {
		s.Wallpaper = *p.Wallpaper
		changed = true
	}
	return changed
}
