// Package commands implements the /sonos slash command group.
package commands

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/vibb/socobo/internal/command"
	"github.com/vibb/socobo/internal/discord"
)

// commandTimeout bounds a single backend round trip triggered from chat.
const commandTimeout = 30 * time.Second

// SonosCommands handles the /sonos slash command group. Each subcommand maps
// onto one handler of the transport-agnostic [command.Router]; this layer
// only extracts options, defers the interaction and renders the reply.
type SonosCommands struct {
	router *command.Router
}

// NewSonosCommands creates a SonosCommands handler.
func NewSonosCommands(router *command.Router) *SonosCommands {
	return &SonosCommands{router: router}
}

// Register registers all /sonos subcommands with the router.
func (sc *SonosCommands) Register(router *discord.CommandRouter) {
	def := sc.Definition()
	router.RegisterCommand("sonos", def, func(s discord.Responder, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(s, i, "Please use a subcommand: `/sonos login`, `/sonos whoami`, `/sonos logout`, `/sonos speakers`, `/sonos play`, `/sonos pause`, `/sonos next`, `/sonos previous`, `/sonos group`, `/sonos ungroup`.")
	})
	router.RegisterHandler("sonos/login", sc.handleLogin)
	router.RegisterHandler("sonos/whoami", sc.handleWhoAmI)
	router.RegisterHandler("sonos/logout", sc.handleLogout)
	router.RegisterHandler("sonos/speakers", sc.handleSpeakers)
	router.RegisterHandler("sonos/play", sc.handlePlay)
	router.RegisterHandler("sonos/pause", sc.handlePause)
	router.RegisterHandler("sonos/next", sc.handleNext)
	router.RegisterHandler("sonos/previous", sc.handlePrevious)
	router.RegisterHandler("sonos/group", sc.handleGroup)
	router.RegisterHandler("sonos/ungroup", sc.handleUngroup)

	router.RegisterAutocomplete("sonos/play", sc.handleAutocomplete)
	router.RegisterAutocomplete("sonos/group", sc.handleAutocomplete)
}

// Definition returns the /sonos ApplicationCommand for Discord registration.
func (sc *SonosCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "sonos",
		Description: "Control the Sonos speakers",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "login",
				Description: "Save your Sonos backend endpoint",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Name:        "endpoint",
						Description: "Backend base URL, e.g. https://sonos.example.com",
						Type:        discordgo.ApplicationCommandOptionString,
						Required:    true,
					},
					{
						Name:        "secret",
						Description: "Optional bearer secret for the backend",
						Type:        discordgo.ApplicationCommandOptionString,
					},
				},
			},
			{
				Name:        "whoami",
				Description: "Show your saved endpoint and device ID",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
			{
				Name:        "logout",
				Description: "Remove your saved endpoint and secret",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
			{
				Name:        "speakers",
				Description: "List the available speakers",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
			{
				Name:        "play",
				Description: "Play media on a speaker",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Name:        "uri",
						Description: "Media link: Spotify, podcast or stream URL",
						Type:        discordgo.ApplicationCommandOptionString,
						Required:    true,
					},
					{
						Name:         "speaker",
						Description:  "Speaker name (defaults to the last one used in this channel)",
						Type:         discordgo.ApplicationCommandOptionString,
						Autocomplete: true,
					},
				},
			},
			{
				Name:        "pause",
				Description: "Toggle play/pause",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
			{
				Name:        "next",
				Description: "Skip to the next track",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
			{
				Name:        "previous",
				Description: "Skip to the previous track",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
			{
				Name:        "group",
				Description: "Group speakers into one zone",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Name:         "members",
						Description:  "Speaker names, e.g. Edith, Bad 2 etg",
						Type:         discordgo.ApplicationCommandOptionString,
						Required:     true,
						Autocomplete: true,
					},
				},
			},
			{
				Name:        "ungroup",
				Description: "Dissolve all speaker groups",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
		},
	}
}

// handleLogin handles /sonos login <endpoint> [secret]. Replies are always
// ephemeral so the endpoint never lands in channel history.
func (sc *SonosCommands) handleLogin(s discord.Responder, i *discordgo.InteractionCreate) {
	endpoint := subcommandStringOption(i, "endpoint")
	secret := subcommandStringOption(i, "secret")

	discord.DeferReply(s, i)
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	reply, err := sc.router.Login(ctx, identityOf(i), endpoint, secret)
	followUp(s, i, reply, err)
}

// handleWhoAmI handles /sonos whoami.
func (sc *SonosCommands) handleWhoAmI(s discord.Responder, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	reply, err := sc.router.WhoAmI(ctx, identityOf(i))
	if err != nil {
		discord.RespondEphemeral(s, i, command.UserMessage(err))
		return
	}
	discord.RespondEphemeral(s, i, reply)
}

// handleLogout handles /sonos logout.
func (sc *SonosCommands) handleLogout(s discord.Responder, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	reply, err := sc.router.Logout(ctx, identityOf(i))
	if err != nil {
		discord.RespondEphemeral(s, i, command.UserMessage(err))
		return
	}
	discord.RespondEphemeral(s, i, reply)
}

// handleSpeakers handles /sonos speakers.
func (sc *SonosCommands) handleSpeakers(s discord.Responder, i *discordgo.InteractionCreate) {
	discord.DeferReply(s, i)
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	reply, err := sc.router.Speakers(ctx, identityOf(i))
	followUp(s, i, reply, err)
}

// handlePlay handles /sonos play <uri> [speaker]. When the speaker option is
// set it is prefixed to the uri so multi-word names resolve the same way a
// typed-out command would.
func (sc *SonosCommands) handlePlay(s discord.Responder, i *discordgo.InteractionCreate) {
	uri := subcommandStringOption(i, "uri")
	speaker := subcommandStringOption(i, "speaker")

	args := uri
	if speaker != "" {
		args = speaker + " " + uri
	}

	discord.DeferReply(s, i)
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	reply, err := sc.router.Play(ctx, identityOf(i), i.ChannelID, args)
	followUp(s, i, reply, err)
}

// handlePause handles /sonos pause.
func (sc *SonosCommands) handlePause(s discord.Responder, i *discordgo.InteractionCreate) {
	sc.handleTransport(s, i, sc.router.Pause)
}

// handleNext handles /sonos next.
func (sc *SonosCommands) handleNext(s discord.Responder, i *discordgo.InteractionCreate) {
	sc.handleTransport(s, i, sc.router.Next)
}

// handlePrevious handles /sonos previous.
func (sc *SonosCommands) handlePrevious(s discord.Responder, i *discordgo.InteractionCreate) {
	sc.handleTransport(s, i, sc.router.Previous)
}

func (sc *SonosCommands) handleTransport(s discord.Responder, i *discordgo.InteractionCreate, call func(context.Context, string) (string, error)) {
	discord.DeferReply(s, i)
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	reply, err := call(ctx, identityOf(i))
	followUp(s, i, reply, err)
}

// handleGroup handles /sonos group <members>.
func (sc *SonosCommands) handleGroup(s discord.Responder, i *discordgo.InteractionCreate) {
	members := subcommandStringOption(i, "members")

	discord.DeferReply(s, i)
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	reply, err := sc.router.Group(ctx, identityOf(i), members)
	followUp(s, i, reply, err)
}

// handleUngroup handles /sonos ungroup.
func (sc *SonosCommands) handleUngroup(s discord.Responder, i *discordgo.InteractionCreate) {
	discord.DeferReply(s, i)
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	reply, err := sc.router.Ungroup(ctx, identityOf(i))
	followUp(s, i, reply, err)
}

// handleAutocomplete offers speaker names for the focused option of
// /sonos play and /sonos group. Best-effort: failures yield no choices.
func (sc *SonosCommands) handleAutocomplete(s discord.Responder, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	partial := strings.ToLower(focusedOptionValue(i))
	names := sc.router.SpeakerNames(ctx, identityOf(i))
	sort.Strings(names)

	var choices []*discordgo.ApplicationCommandOptionChoice
	for _, name := range names {
		if partial == "" || strings.HasPrefix(strings.ToLower(name), partial) {
			choices = append(choices, &discordgo.ApplicationCommandOptionChoice{
				Name:  name,
				Value: name,
			})
		}
		// Discord limits autocomplete to 25 choices.
		if len(choices) >= 25 {
			break
		}
	}

	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{
			Choices: choices,
		},
	})
}

// followUp renders a command result (or its error) after a deferred reply.
func followUp(s discord.Responder, i *discordgo.InteractionCreate, reply string, err error) {
	if err != nil {
		discord.FollowUp(s, i, command.UserMessage(err))
		return
	}
	discord.FollowUp(s, i, reply)
}

// identityOf returns the stable user ID behind an interaction, covering both
// guild (Member) and DM (User) interactions.
func identityOf(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// subcommandStringOption extracts a string option value from a subcommand
// interaction.
func subcommandStringOption(i *discordgo.InteractionCreate, name string) string {
	data := i.ApplicationCommandData()
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		for _, opt := range data.Options[0].Options {
			if opt.Name == name {
				return opt.StringValue()
			}
		}
	}
	return ""
}

// focusedOptionValue returns the partial text of the focused option in an
// autocomplete interaction.
func focusedOptionValue(i *discordgo.InteractionCreate) string {
	data := i.ApplicationCommandData()
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		for _, opt := range data.Options[0].Options {
			if opt.Focused {
				return opt.StringValue()
			}
		}
	}
	return ""
}
