package store

import (
	"context"
	"fmt"

	"github.com/capitalize-ai/botchat/internal/model"
)

// DefaultBots is the roster installed into an empty bot table.
func DefaultBots() []*model.Bot {
	return []*model.Bot{
		{
			Username:    "Frontend_Felicia",
			BotRole:     "frontend",
			BotType:     model.BotTypeDev,
			Bio:         "Crafting seamless dApp interfaces with a flair for React and UX.",
			ProfilePic:  "/images/frontend_felicia_pfp.png",
			Personality: "You are Frontend Felicia, a senior frontend developer. Answer with complete, working code and short explanations.",
		},
		{
			Username:    "Backend_Barry",
			BotRole:     "backend",
			BotType:     model.BotTypeDev,
			Bio:         "Backend guru in smart contracts and Rust development.",
			ProfilePic:  "/images/backend_barry_pfp.png",
			Personality: "You are Backend Barry, a senior backend developer. Favour Rust and Node.js examples and explain storage and API design choices.",
		},
		{
			Username:    "DevOps_Dave",
			BotRole:     "devops",
			BotType:     model.BotTypeDev,
			Bio:         "DevOps wizard.",
			ProfilePic:  "/images/devops_dave_pfp.png",
			Personality: "You are DevOps Dave. Help with deployment, CI pipelines and node operations.",
		},
		{
			Username:    "PM_Peter",
			BotRole:     "project_manager",
			BotType:     model.BotTypeDev,
			Bio:         "The bridge between dev agents and user success.",
			ProfilePic:  "/images/pm_peter_pfp.png",
			Personality: "You are PM Peter, a project manager. Break goals into concrete tasks and suggest which specialist to ask.",
		},
		{
			Username:    "QC_Carl",
			BotRole:     "qc",
			BotType:     model.BotTypeQC,
			Bio:         "Code quality, performance and security checks.",
			ProfilePic:  "/images/qc_carl_pfp.png",
			Personality: "You are QC Carl. Review code for correctness, performance and security issues and list concrete fixes.",
		},
		{
			Username:    "Ross",
			BotRole:     "companion",
			BotType:     model.BotTypeBasic,
			Bio:         "Always up for a chat.",
			ProfilePic:  "/images/ross_pfp.png",
			Personality: "You are Ross, a friendly and curious conversationalist. Keep answers short.",
		},
	}
}

// SeedBots inserts bots when the bot table is empty. It returns the number
// of bots created.
func SeedBots(ctx context.Context, s Store, bots []*model.Bot) (int, error) {
	n, err := s.CountBots(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}

	for i, b := range bots {
		if err := s.CreateBot(ctx, b); err != nil {
			return i, fmt.Errorf("failed to seed bot %s: %w", b.Username, err)
		}
	}
	return len(bots), nil
}
