package render

// calendarTemplate is the HTML handed to wkhtmltoimage. Kept deliberately
// small, the layout is a single column card.
const calendarTemplate = `<!DOCTYPE html>
<html lang="zh-CN">
<head>
<meta charset="utf-8">
<style>
  body { margin: 0; font-family: "PingFang SC", "Microsoft YaHei", sans-serif; background: #f7f8fa; }
  .card { width: 420px; margin: 16px auto; background: #fff; border-radius: 12px; padding: 24px; }
  .date { font-size: 15px; color: #888; }
  .day { font-size: 56px; font-weight: 700; margin: 4px 0; }
  .greeting { font-size: 18px; margin-bottom: 12px; }
  .index { font-size: 16px; margin: 8px 0; }
  .quote { color: #666; font-style: italic; margin: 12px 0; }
  .section { margin-top: 16px; font-size: 14px; }
  .section h3 { font-size: 15px; margin: 0 0 6px 0; }
  .item { display: flex; justify-content: space-between; padding: 2px 0; }
  .today { color: #e67e22; font-weight: 700; }
</style>
</head>
<body>
<div class="card">
  <div class="date">{{.YearMonth}} · {{.Weekday}}</div>
  <div class="day">{{.Day}}</div>
  <div class="greeting">{{.Greeting}}，摸鱼人！</div>
  <div class="index">今日摸鱼指数：{{.MoyuIndex}}（{{.MoyuLevel}}）</div>
  <div class="quote">{{.Quote}}</div>
  <div class="section">
    <h3>距离周末还有 {{.WeekendDays}} 天</h3>
  </div>
  {{if .Festivals}}
  <div class="section">
    <h3>假期倒计时</h3>
    {{range .Festivals}}
    <div class="item{{if .IsToday}} today{{end}}"><span>{{.Name}}</span><span>{{if .IsToday}}就是今天{{else}}{{.Days}} 天{{end}}</span></div>
    {{end}}
  </div>
  {{end}}
  <div class="section">
    <h3>发薪日倒计时</h3>
    {{range .Paydays}}
    <div class="item{{if .IsToday}} today{{end}}"><span>{{.Name}}</span><span>{{if .IsToday}}就是今天{{else}}{{.Days}} 天{{end}}</span></div>
    {{end}}
  </div>
  <div class="section">
    <h3>摸鱼时间轴</h3>
    {{range .Timeline}}
    <div class="item"><span>{{.}}</span></div>
    {{end}}
  </div>
</div>
</body>
</html>`
