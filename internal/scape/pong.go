package scape

import (
	"math"

	"neuron/internal/rng"
)

const (
	ScreenWidth  = 320
	ScreenHeight = 240

	PaddleWidth  = 8
	PaddleHeight = 40
	PaddleSpeed  = 4.0

	BallSize         = 8
	BallInitialSpeed = 4.0
	BallMaxSpeed     = 8.0

	AIPaddleX       = 20
	OpponentPaddleX = ScreenWidth - 20 - PaddleWidth

	PlayfieldTop    = 20
	PlayfieldBottom = ScreenHeight - 20
	PlayfieldLeft   = 10
	PlayfieldRight  = ScreenWidth - 10

	WinningScore = 11

	RewardScore          float32 = 1.0
	RewardOpponentScore  float32 = -1.0
	RewardBallToOpponent float32 = 0.01
	RewardTimePenalty    float32 = -0.001
)

const (
	ActionUp = iota
	ActionStay
	ActionDown
)

const (
	ballHalf      float32 = BallSize / 2.0
	paddleHalf    float32 = PaddleHeight / 2.0
	speedUp       float32 = 1.05
	spinFactor    float32 = 2.0
	serveSpread   float32 = 1.57
	trackingLead  float32 = 0.5
	opponentSpeed float32 = PaddleSpeed * 0.9
)

type scorer int

const (
	scorerAgent scorer = iota
	scorerOpponent
)

// PongScape is a paddle game against a simple tracking opponent. The agent
// controls the left paddle; a point ends an episode and a game ends when
// either side reaches WinningScore.
type PongScape struct {
	ballX, ballY   float32
	ballVX, ballVY float32
	agentY         float32
	opponentY      float32

	agentScore    int
	opponentScore int
	served        bool
	pointScored   bool
	lastScorer    scorer
	rally         int
	longestRally  int

	random *rng.Source
}

func NewPongScape(seed uint32) *PongScape {
	if seed == 0 {
		seed = rng.PongSeed
	}
	p := &PongScape{random: rng.New(seed)}
	p.Reset()
	return p
}

func (*PongScape) Name() string { return "pong" }

func (*PongScape) StateSize() int { return 6 }

func (*PongScape) ActionCount() int { return 3 }

func (p *PongScape) Reset() {
	p.agentScore = 0
	p.opponentScore = 0
	p.rally = 0
	p.longestRally = 0
	p.agentY = ScreenHeight / 2.0
	p.opponentY = ScreenHeight / 2.0
	p.serve(true)
}

func (p *PongScape) serve(towardAgent bool) {
	p.ballX = ScreenWidth / 2.0
	p.ballY = ScreenHeight / 2.0

	angle := (p.random.Float32() - 0.5) * serveSpread
	p.ballVX = BallInitialSpeed * float32(math.Cos(float64(angle)))
	p.ballVY = BallInitialSpeed * float32(math.Sin(float64(angle)))
	if towardAgent {
		p.ballVX = -abs32(p.ballVX)
	} else {
		p.ballVX = abs32(p.ballVX)
	}

	p.served = true
	p.pointScored = false
	p.rally = 0
}

// Continue serves toward the side that just scored, or starts a new game
// once someone has reached WinningScore.
func (p *PongScape) Continue() {
	if p.GameOver() {
		p.Reset()
		return
	}
	p.serve(p.lastScorer == scorerAgent)
}

func (p *PongScape) GameOver() bool {
	return p.agentScore >= WinningScore || p.opponentScore >= WinningScore
}

func (p *PongScape) Scores() (int, int) { return p.agentScore, p.opponentScore }

func (p *PongScape) Rally() (current, longest int) { return p.rally, p.longestRally }

// Observe writes ball position, ball velocity, agent paddle and opponent
// paddle, each scaled to roughly [-1, 1].
func (p *PongScape) Observe(dst []float32) {
	const halfW, halfH float32 = ScreenWidth / 2.0, ScreenHeight / 2.0
	dst[0] = (p.ballX - halfW) / halfW
	dst[1] = (p.ballY - halfH) / halfH
	dst[2] = p.ballVX / BallMaxSpeed
	dst[3] = p.ballVY / BallMaxSpeed
	dst[4] = (p.agentY - halfH) / halfH
	dst[5] = (p.opponentY - halfH) / halfH
}

// Step applies the agent action, moves the opponent, advances the ball one
// frame and returns the shaped reward.
func (p *PongScape) Step(action int) Outcome {
	p.moveAgent(action)
	p.moveOpponent()
	p.advance()

	var reward float32
	point := 0
	if p.pointScored {
		if p.lastScorer == scorerAgent {
			reward += RewardScore
			point = 1
		} else {
			reward += RewardOpponentScore
			point = -1
		}
	}
	if p.ballVX > 0 {
		reward += RewardBallToOpponent
	}
	reward += RewardTimePenalty

	return Outcome{Reward: reward, Done: !p.served, Point: point}
}

func (p *PongScape) moveAgent(action int) {
	switch action {
	case ActionUp:
		p.agentY -= PaddleSpeed
	case ActionDown:
		p.agentY += PaddleSpeed
	}
	p.agentY = clamp32(p.agentY, PlayfieldTop+paddleHalf, PlayfieldBottom-paddleHalf)
}

func (p *PongScape) moveOpponent() {
	if p.ballVX > 0 {
		target := p.ballY
		timeToReach := (OpponentPaddleX - p.ballX) / p.ballVX
		target += p.ballVY * timeToReach * trackingLead

		diff := target - p.opponentY
		switch {
		case diff > opponentSpeed:
			p.opponentY += opponentSpeed
		case diff < -opponentSpeed:
			p.opponentY -= opponentSpeed
		default:
			p.opponentY += diff
		}
	}
	p.opponentY = clamp32(p.opponentY, PlayfieldTop+paddleHalf, PlayfieldBottom-paddleHalf)
}

func (p *PongScape) advance() {
	if !p.served {
		return
	}
	p.pointScored = false

	oldX := p.ballX
	p.ballX += p.ballVX
	p.ballY += p.ballVY

	if p.ballY-ballHalf < PlayfieldTop {
		p.ballY = PlayfieldTop + ballHalf
		p.ballVY = -p.ballVY
	}
	if p.ballY+ballHalf > PlayfieldBottom {
		p.ballY = PlayfieldBottom - ballHalf
		p.ballVY = -p.ballVY
	}

	if p.ballVX < 0 {
		right := float32(AIPaddleX + PaddleWidth)
		if p.ballX-ballHalf <= right && oldX-ballHalf > right && p.overlapsPaddle(p.agentY) {
			p.ballX = right + ballHalf
			p.deflect(p.agentY)
			p.rally++
			if p.rally > p.longestRally {
				p.longestRally = p.rally
			}
		}
	}
	if p.ballVX > 0 {
		left := float32(OpponentPaddleX)
		if p.ballX+ballHalf >= left && oldX+ballHalf < left && p.overlapsPaddle(p.opponentY) {
			p.ballX = left - ballHalf
			p.deflect(p.opponentY)
			p.rally++
		}
	}

	switch {
	case p.ballX-ballHalf < PlayfieldLeft:
		p.opponentScore++
		p.score(scorerOpponent)
	case p.ballX+ballHalf > PlayfieldRight:
		p.agentScore++
		p.score(scorerAgent)
	}
}

func (p *PongScape) overlapsPaddle(paddleY float32) bool {
	return p.ballY+ballHalf >= paddleY-paddleHalf && p.ballY-ballHalf <= paddleY+paddleHalf
}

// deflect reverses horizontal motion and adds spin from the hit position.
func (p *PongScape) deflect(paddleY float32) {
	p.ballVX = -p.ballVX
	hit := clamp32((p.ballY-paddleY)/paddleHalf, -1, 1)
	p.ballVY += hit * spinFactor

	speed := float32(math.Sqrt(float64(p.ballVX*p.ballVX + p.ballVY*p.ballVY)))
	if speed < BallMaxSpeed {
		p.ballVX *= speedUp
		p.ballVY *= speedUp
	}
	p.ballVY = clamp32(p.ballVY, -BallMaxSpeed, BallMaxSpeed)
}

func (p *PongScape) score(who scorer) {
	p.served = false
	p.pointScored = true
	p.lastScorer = who
}

func clamp32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
