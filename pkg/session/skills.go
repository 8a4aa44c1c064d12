package session

import (
	"context"
	"time"

	"github.com/harun/kawan/pkg/adapter"
	"github.com/harun/kawan/pkg/wire"
)

const skillListTimeout = 10 * time.Second

// SkillList answers a skill.list.request. Adapter sessions that expose an
// upstream catalog report it; everything else reports the local registry.
func (s *Session) SkillList() {
	var infos []wire.SkillInfo

	if lister, ok := s.upstream.adapter.(adapter.SkillLister); s.upstream.isAdapter() && ok {
		ctx, cancel := context.WithTimeout(context.Background(), skillListTimeout)
		defer cancel()

		manifests, err := lister.ListSkills(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Upstream skill catalog unavailable")
			s.sendError(wire.ErrSkill, "skill catalog unavailable", "")
			return
		}
		for _, m := range manifests {
			infos = append(infos, wire.SkillInfo{
				Name:        m.Name,
				Version:     m.Version,
				Description: m.Description,
				Enabled:     true,
				Functions:   len(m.Functions),
			})
		}
	} else {
		for _, m := range s.manager.registry.ListForUser(s.User) {
			infos = append(infos, wire.SkillInfo{
				Name:        m.Name,
				Version:     m.Version,
				Description: m.Description,
				Enabled:     s.manager.registry.Enabled(m.Name),
				Functions:   len(m.Functions),
			})
		}
	}

	s.send(wire.TypeSkillListResponse, wire.SkillListResponsePayload{Skills: infos})
}

// SkillToggle enables or disables a local skill. Adapter sessions have no
// local skills to toggle.
func (s *Session) SkillToggle(payload wire.SkillTogglePayload) {
	if s.upstream.isAdapter() {
		s.sendError(wire.ErrSkill, "skills are managed by the upstream agent", "")
		return
	}
	if err := s.manager.registry.SetEnabled(payload.SkillName, payload.Enabled); err != nil {
		s.sendError(wire.ErrSkill, err.Error(), "")
		return
	}
	s.logger.Info().Str("skill", payload.SkillName).Bool("enabled", payload.Enabled).Msg("Skill toggled")
}
